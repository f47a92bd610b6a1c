package dataset

import (
	"bytes"
	"encoding/json"
)

// MarshalJSON writes the canonical enveloped form:
//
//	{"data": {"USA": {"country": "...", "energy": [{"year": 2022, "value": 6363}]}}, <meta>}
//
// Codes and metrics are sorted, series keep their order, and an undated
// single observation is written as {"value": v}. Normalize(MarshalJSON(d))
// is Equal to d.
func (d *Dataset) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte(`{"data":{}}`), nil
	}
	var buf bytes.Buffer
	buf.WriteString(`{"data":{`)
	for i, code := range d.Codes() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONValue(&buf, string(code)); err != nil {
			return nil, err
		}
		buf.WriteString(":{")
		first := true
		if name, ok := d.names[code]; ok {
			buf.WriteString(`"country":`)
			if err := writeJSONValue(&buf, name); err != nil {
				return nil, err
			}
			first = false
		}
		for _, key := range d.Metrics(code) {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			if err := writeJSONValue(&buf, string(key)); err != nil {
				return nil, err
			}
			buf.WriteByte(':')
			if err := writeSeries(&buf, d.countries[code][key]); err != nil {
				return nil, err
			}
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	for _, m := range d.meta {
		buf.WriteByte(',')
		if err := writeJSONValue(&buf, m.key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		buf.Write(m.raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeSeries(buf *bytes.Buffer, ts TimeSeries) error {
	if len(ts) == 1 && !ts[0].Dated {
		buf.WriteString(`{"value":`)
		if err := writeJSONValue(buf, ts[0].Value); err != nil {
			return err
		}
		buf.WriteByte('}')
		return nil
	}
	buf.WriteByte('[')
	for i, obs := range ts {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"year":`)
		if err := writeJSONValue(buf, obs.Year); err != nil {
			return err
		}
		buf.WriteString(`,"value":`)
		if err := writeJSONValue(buf, obs.Value); err != nil {
			return err
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')
	return nil
}

func writeJSONValue(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}
