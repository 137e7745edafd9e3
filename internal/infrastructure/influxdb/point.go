package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/sensord/internal/sensor"
)

const (
	// Measurement holds one point per change of the reading.
	Measurement = "sensor_reading"

	// TagSensorID identifies the sensor a point belongs to.
	TagSensorID = "sensor_id"
)

// readingFields maps a reading to point fields. Absent values are left out;
// a cleared reading becomes cleared=true so the reset shows in the series.
func readingFields(r sensor.Reading) map[string]any {
	if r.IsCleared() {
		return map[string]any{"cleared": true}
	}
	fields := make(map[string]any, 2)
	if r.Temperature != nil {
		fields["temperature"] = *r.Temperature
	}
	if r.Light != nil {
		fields["light"] = *r.Light
	}
	return fields
}

func readingPoint(sensorID string, r sensor.Reading, at time.Time) *write.Point {
	return write.NewPoint(
		Measurement,
		map[string]string{TagSensorID: sensorID},
		readingFields(r),
		at,
	)
}
