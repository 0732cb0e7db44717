package telemetry

// Dataset is an ordered collection of records sharing one schema.
type Dataset struct {
	// Columns lists the header names present in the input, in order.
	Columns []string
	Records []Record
}

// NewDataset creates a Dataset over records with the given columns.
func NewDataset(columns []string, records []Record) *Dataset {
	return &Dataset{Columns: columns, Records: records}
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Records)
}

// HasColumn reports whether name is part of the schema.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Missing returns the subset of names absent from the schema, in argument order.
func (d *Dataset) Missing(names ...string) []string {
	var missing []string
	for _, n := range names {
		if !d.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// Clone returns a deep copy of d.
func (d *Dataset) Clone() *Dataset {
	cols := make([]string, len(d.Columns))
	copy(cols, d.Columns)

	records := make([]Record, len(d.Records))
	for i, r := range d.Records {
		records[i] = r.clone()
	}
	return &Dataset{Columns: cols, Records: records}
}

// Matrix extracts the named features as a row-major matrix.
// Missing columns, non-numeric values and non-finite values are schema errors.
func (d *Dataset) Matrix(features []string) ([][]float64, error) {
	if missing := d.Missing(features...); len(missing) > 0 {
		return nil, MissingColumns(missing...)
	}

	data := make([][]float64, len(d.Records))
	for i, r := range d.Records {
		row := make([]float64, len(features))
		for j, name := range features {
			v, ok := r.Feature(name)
			if !ok {
				return nil, &SchemaError{Columns: []string{name}, Row: i, Reason: "non-numeric value"}
			}
			if !finite(v) {
				return nil, &SchemaError{Columns: []string{name}, Row: i, Reason: "non-finite value"}
			}
			row[j] = v
		}
		data[i] = row
	}
	return data, nil
}
