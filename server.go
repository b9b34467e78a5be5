package main

import (
	"encoding/json"
	"net/http"
	"time"

	"AirMonitor/bme680"
	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// configView is the JSON shape of the active sensor configuration.
type configView struct {
	Temperature string  `json:"temperatureOversampling"`
	Pressure    string  `json:"pressureOversampling"`
	Humidity    string  `json:"humidityOversampling"`
	Filter      string  `json:"filter"`
	RunGas      bool    `json:"runGas"`
	TargetTemp  float64 `json:"heaterTarget"`
	HeaterWait  string  `json:"heaterWait"`
	Mode        string  `json:"compensation"`
}

func newConfigView(c bme680.Config) configView {
	return configView{
		Temperature: c.Temperature.String(),
		Pressure:    c.Pressure.String(),
		Humidity:    c.Humidity.String(),
		Filter:      c.Filter.String(),
		RunGas:      c.RunGas,
		TargetTemp:  c.TargetTemp,
		HeaterWait:  c.SetPoints[c.SetPoint].Duration().String(),
		Mode:        c.Mode.String(),
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	jsonStr, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonStr); err != nil {
		log.Warnf("Couldn't send response: %v", err)
	}
}

func newRouter(readings *readingStore, config func() bme680.Config, metrics *sensorMetrics) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, readings.get().withAge(time.Now()))
	}).Methods(http.MethodGet)
	r.HandleFunc("/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, newConfigView(config()))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.handler())
	return r
}
