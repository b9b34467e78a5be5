package main

import (
	"errors"

	"AirMonitor/bme680"
	"AirMonitor/eeprom"
	log "github.com/sirupsen/logrus"
)

// eepromSize matches the ATmega328's EEPROM.
const eepromSize = 1024

// loadSensorConfig reads the configuration record at offset. Empty or
// unreadable memory yields the defaults, which are written back when the
// memory was empty.
func loadSensorConfig(store *eeprom.Store, offset int) bme680.Config {
	cfg := bme680.DefaultConfig
	err := store.Load(offset, &cfg)
	switch {
	case err == nil:
		log.Infof("Loaded sensor configuration from offset %d", offset)
		return cfg
	case errors.Is(err, eeprom.ErrEmpty):
		cfg = bme680.DefaultConfig
		if err := store.Save(offset, cfg); err != nil {
			log.Warnf("Couldn't store default configuration: %v", err)
		} else {
			log.Infof("Stored default configuration at offset %d", offset)
		}
	default:
		log.Warnf("Ignoring stored configuration: %v", err)
		cfg = bme680.DefaultConfig
	}
	return cfg
}

// checkArgs rejects flag values the sensor loop can't run with.
func checkArgs(args *ProgramArgs) error {
	if args.Interval == 0 {
		return errors.New("interval must be at least 1 second")
	}
	return nil
}

// applyOverrides applies command line settings on top of the stored
// configuration.
func applyOverrides(cfg bme680.Config, args *ProgramArgs) bme680.Config {
	if args.Float {
		cfg.Mode = bme680.Float
	}
	if args.NoGas {
		cfg.RunGas = false
	}
	if args.HeaterTemp > 0 {
		cfg.TargetTemp = args.HeaterTemp
	}
	return cfg
}
