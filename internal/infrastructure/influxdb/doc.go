// Package influxdb records the history of a sensor reading in InfluxDB v2.
//
// Every change becomes one point in the sensor_reading measurement, tagged
// with sensor_id, carrying the temperature and light fields that are
// present (or cleared=true for a reset). Writes are batched and never
// block the caller; batch failures go to the SetOnError callback. The
// service never queries InfluxDB.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Sensor.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.RecordReading(reading, time.Now())
package influxdb
