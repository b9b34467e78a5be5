package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"AirMonitor/bme680"
	"AirMonitor/eeprom"
	"github.com/aldernero/scd4x"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

type ProgramArgs struct {
	// Server Options
	Host string `short:"H" long:"host" default:"127.0.0.1" description:"IP to listen on"`
	Port uint16 `short:"P" long:"port" default:"27315" description:"Port to listen on"`

	// Sensor Options
	Interval   uint16  `short:"I" long:"interval" default:"5" description:"Interval between readings"`
	I2CDevice  string  `short:"D" long:"i2cdev" description:"The used I2C device (default: auto)"`
	Address    uint16  `short:"A" long:"address" default:"77" base:"16" description:"BME680 I2C address, 76 or 77 (hex)"`
	Float      bool    `long:"float" description:"Use floating point compensation"`
	NoGas      bool    `long:"no-gas" description:"Disable the gas measurement"`
	HeaterTemp float64 `long:"heater-temp" description:"Heater target temperature in °C (default: stored configuration)"`
	SCD4x      bool    `long:"scd4x" description:"Also read an SCD4x CO2 sensor on the same bus"`

	// Persistence Options
	ConfigFile   string `short:"C" long:"config" default:"airmonitor.eeprom" description:"EEPROM image holding the sensor configuration"`
	ConfigOffset int    `long:"config-offset" default:"0" description:"Offset of the configuration record in the EEPROM image"`

	// Serial Echo Options
	SerialIn      string `long:"serial-in" description:"Bluetooth serial port to echo from"`
	SerialOut     string `long:"serial-out" description:"USB serial port to echo to"`
	SerialInBaud  int    `long:"serial-in-baud" default:"38400" description:"Baud rate of the Bluetooth serial port"`
	SerialOutBaud int    `long:"serial-out-baud" default:"115200" description:"Baud rate of the USB serial port"`

	LogLevel string `long:"log-level" default:"info" description:"Log level (debug, info, warn, error)"`
}

var args ProgramArgs

const (
	MIN_TIMEOUT_SECONDS = 2
)

func updateReading(ch <-chan bme680.Measurement, scdDev *scd4x.SCD4x, readings *readingStore, metrics *sensorMetrics) {
	for m := range ch {
		reading := readingFromMeasurement(m, time.Now())

		if scdDev != nil {
			scdData, err := scdDev.ReadMeasurement()
			if err != nil {
				log.Warnf("Error while reading SCD4x data: %v", err)
				metrics.failed("scd4x")
			} else {
				reading.CO2 = scdData.CO2
				reading.HumiditySCD = scdData.Rh
			}
		}

		readings.set(reading)
		metrics.observe(reading)
		log.WithFields(log.Fields{
			"temperature": reading.Temperature,
			"pressure":    reading.Pressure,
			"humidity":    reading.Humidity,
			"gas":         reading.GasResistance,
		}).Debug("New readings")
	}
	metrics.failed("bme680")
	log.Warn("BME680 sensing stopped")
}

func getOutboundIP() net.IP {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)

	return localAddr.IP
}

func setupI2CBus(i2cdev string) i2c.BusCloser {
	if _, err := host.Init(); err != nil {
		log.Fatalf("Initialization failed: %v", err)
	}

	bus, err := i2creg.Open(i2cdev)
	if err != nil {
		log.Fatalf("Couldn't open I2C device: %v", err)
	}

	return bus
}

// setupBMESensor returns the device. the caller has the responsibility to close the bus
func setupBMESensor(i2cBus i2c.BusCloser, addr uint16, cfg bme680.Config) *bme680.Dev {
	dev, err := bme680.NewI2C(i2cBus, addr, &cfg)
	if err != nil {
		log.Fatalf("Couldn't initialize sensor: %v", err)
	}
	log.Infof("Found %s, %s compensation", dev, cfg.Mode)

	return dev
}

func setupSCDSensor(i2cBus i2c.BusCloser) *scd4x.SCD4x {
	sensor, err := scd4x.SensorInit(i2cBus, false)
	if err != nil {
		log.Fatalln(err.Error())
	}

	log.Info("Initializing SCD4x…")
	if err := sensor.StopMeasurements(); err != nil {
		log.Fatalf("Error while trying to stop periodic measurements: %v", err)
	}
	if err := sensor.StartMeasurements(); err != nil {
		log.Fatalf("Error while trying to start periodic measurements: %v", err)
	}
	log.Info("Done")

	return sensor
}

func main() {
	args = ProgramArgs{}
	argParser := flags.NewParser(&args, flags.Default)

	_, err := argParser.Parse()
	if err != nil {
		log.Fatal("arg parse fail")
	}

	level, err := log.ParseLevel(args.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(level)

	if err := checkArgs(&args); err != nil {
		log.Fatalf("Invalid arguments: %v", err)
	}

	store, err := eeprom.Open(args.ConfigFile, eepromSize)
	if err != nil {
		log.Fatalf("Couldn't open configuration memory: %v", err)
	}
	defer store.Close()
	cfg := applyOverrides(loadSensorConfig(store, args.ConfigOffset), &args)

	// Boring i2c setup (error handling happens in these functions)
	bus := setupI2CBus(args.I2CDevice)
	defer bus.Close()

	bmeDev := setupBMESensor(bus, args.Address, cfg)

	// MeasureContinuous will take one reading immediately before looping
	intervalDuration := time.Duration(args.Interval)
	readingChannel, err := bmeDev.MeasureContinuous(intervalDuration * time.Second)
	if err != nil {
		log.Fatalf("Couldn't start taking readings: %v", err)
	}
	defer bmeDev.Halt()

	var scdDev *scd4x.SCD4x
	if args.SCD4x {
		scdDev = setupSCDSensor(bus)
		defer scdDev.StopMeasurements()

		log.Info("Waking up in a second…")
		// give the sensor time to wake up
		time.Sleep(1 * time.Second)
	}

	if args.SerialIn != "" && args.SerialOut != "" {
		echo, err := startSerialEcho(args.SerialIn, args.SerialOut, args.SerialInBaud, args.SerialOutBaud)
		if err != nil {
			log.Fatalf("Couldn't start serial echo: %v", err)
		}
		defer echo.Close()
		log.Infof("Echoing %s to %s", args.SerialIn, args.SerialOut)
	}

	readings := &readingStore{}
	metrics := newSensorMetrics()
	metrics.watchFailures("bme680", bmeDev.Failures)

	// Start background measurements
	go updateReading(readingChannel, scdDev, readings, metrics)

	r := newRouter(readings, bmeDev.Config, metrics)

	timeoutLen := max(MIN_TIMEOUT_SECONDS, int(args.Interval))

	addr := fmt.Sprintf("%s:%d", args.Host, args.Port)
	srv := &http.Server{
		Addr:         addr,
		ReadTimeout:  time.Duration(timeoutLen) * time.Second,
		WriteTimeout: time.Duration(timeoutLen) * time.Second,
		IdleTimeout:  120 * time.Second,
		Handler:      r,
	}

	go func() {
		if args.Host == "0.0.0.0" {
			localIP := getOutboundIP() // resolve local IP for easier debugging
			log.Infof("Listening on %s:%d…", localIP.String(), args.Port)
		} else {
			log.Infof("Listening on %s…", addr)
		}

		err := srv.ListenAndServe()
		log.Infof("Shutdown (%v)", err)
	}()

	sigChan := make(chan os.Signal, 1)
	// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
	signal.Notify(sigChan, os.Interrupt)

	<-sigChan

	// Give the server a timeout period of 4 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
	defer cancel()
	// Doesn't block if no connections, but will otherwise wait until the timeout deadline.
	_ = srv.Shutdown(ctx)
}
