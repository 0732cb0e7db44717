package telemetry

// Derive returns a copy of d with failure_rate populated on every record.
//
// failure_rate = failures / uptime_hours, with a zero uptime treated as 1.
// The schema is checked once for the whole dataset before any record is touched.
func Derive(d *Dataset) (*Dataset, error) {
	if missing := d.Missing(ColFailures, ColUptimeHours); len(missing) > 0 {
		return nil, MissingColumns(missing...)
	}

	out := d.Clone()
	for i := range out.Records {
		r := &out.Records[i]
		if r.Failures < 0 {
			return nil, &SchemaError{Columns: []string{ColFailures}, Row: i, Reason: "negative value"}
		}
		if r.UptimeHours < 0 || !finite(r.UptimeHours) {
			return nil, &SchemaError{Columns: []string{ColUptimeHours}, Row: i, Reason: "negative or non-finite value"}
		}
		r.FailureRate = failureRate(r.Failures, r.UptimeHours)
	}

	if !out.HasColumn(ColFailureRate) {
		out.Columns = append(out.Columns, ColFailureRate)
	}
	return out, nil
}

func failureRate(failures int, uptime float64) float64 {
	if uptime == 0 {
		uptime = 1
	}
	return float64(failures) / uptime
}
