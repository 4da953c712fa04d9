package catalog

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"

	"github.com/raaihank/dq-sentinel/internal/dqerr"
)

// headerAliases maps alternative CSV headers to their canonical column.
var headerAliases = map[string]string{
	"detection": "detection_mode",
	"ruletype":  "rule_type",
	"rule type": "rule_type",
}

// ReadRecordsCSV parses rule records from CSV with a header row. Recognised
// columns are id, dimension, name, description, criticality, detection_mode
// (or detection), rule_type (or ruleType), role and params (a JSON object).
// Unknown columns are ignored.
func ReadRecordsCSV(r io.Reader) ([]RuleRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, dqerr.Config("import", "failed to read CSV header: %v", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if canonical, ok := headerAliases[key]; ok {
			key = canonical
		}
		if _, dup := index[key]; dup {
			return nil, dqerr.Config("import", "duplicate column %s", key)
		}
		index[key] = i
	}
	for _, required := range []string{"id", "dimension", "criticality", "detection_mode", "rule_type"} {
		if _, ok := index[required]; !ok {
			return nil, dqerr.Config("import", "missing column %s", required)
		}
	}

	get := func(row []string, col string) string {
		if i, ok := index[col]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	var records []RuleRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, dqerr.Config("import", "line %d: %v", line, err)
		}

		rec := RuleRecord{
			ID:            get(row, "id"),
			Dimension:     get(row, "dimension"),
			Name:          get(row, "name"),
			Description:   get(row, "description"),
			Criticality:   get(row, "criticality"),
			DetectionMode: get(row, "detection_mode"),
			RuleType:      get(row, "rule_type"),
			Role:          get(row, "role"),
		}
		if raw := get(row, "params"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &rec.Params); err != nil {
				return nil, dqerr.Config("import", "line %d: invalid params: %v", line, err)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}
