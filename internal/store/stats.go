package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	Driver      string       `json:"driver"`
	DBPath      string       `json:"db_path,omitempty"`
	DBSizeBytes int64        `json:"db_size_bytes,omitempty"`
	Tables      []TableStats `json:"tables"`
}

// TableStats holds a per-table row count.
type TableStats struct {
	Table string `json:"table"`
	Rows  int    `json:"rows"`
}

var statTables = []string{
	"student",
	"course",
	"skill_map",
	"skill",
	"studentskill",
	"enrollment",
	"certificate",
	"company_requirement",
	"company_requirement_skill",
	"student_company_choice",
}

// Stats returns database statistics.
func (s *SQLStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{Driver: s.driver, DBPath: s.path}

	if s.path != "" {
		if info, err := os.Stat(s.path); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}

	for _, table := range statTables {
		ts := TableStats{Table: table}
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&ts.Rows); err != nil {
			return st, err
		}
		st.Tables = append(st.Tables, ts)
	}

	return st, nil
}
