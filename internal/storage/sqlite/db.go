// Package sqlite persists analysis history. The pipeline itself is
// stateless; this store only records what was asked and what was returned.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"farmchain/internal/domain"
)

func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		district     TEXT NOT NULL,
		season       TEXT NOT NULL,
		irrigation   TEXT NOT NULL,
		soil_type    TEXT DEFAULT '',
		language     TEXT NOT NULL,
		report_text  TEXT NOT NULL,
		result_json  TEXT NOT NULL,
		success      INTEGER NOT NULL DEFAULT 1,
		error        TEXT DEFAULT '',
		analyzed_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_analyzed_at ON analyses(analyzed_at);
	CREATE INDEX IF NOT EXISTS idx_analyses_district ON analyses(district);
	`
	_, err = db.Exec(schema)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// AnalysisRecord is one stored pipeline run.
type AnalysisRecord struct {
	ID         int64
	District   string
	Season     string
	Irrigation string
	SoilType   string
	Language   string
	ReportText string
	ResultJSON string
	Success    bool
	Error      string
	AnalyzedAt time.Time
}

func InsertAnalysis(db *sql.DB, req domain.AnalysisRequest, result domain.AnalysisResult) (int64, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return 0, err
	}
	res, err := db.Exec(
		`INSERT INTO analyses (district, season, irrigation, soil_type, language, report_text, result_json, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.District, req.Season, req.IrrigationType, req.SoilType, req.Language,
		req.ReportText, string(resultJSON), result.Success, result.Error,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func GetAnalysisByID(db *sql.DB, id int64) (AnalysisRecord, error) {
	var r AnalysisRecord
	err := db.QueryRow(
		`SELECT id, district, season, irrigation, soil_type, language, report_text, result_json, success, error, analyzed_at
		 FROM analyses WHERE id = ?`,
		id,
	).Scan(
		&r.ID, &r.District, &r.Season, &r.Irrigation, &r.SoilType, &r.Language,
		&r.ReportText, &r.ResultJSON, &r.Success, &r.Error, &r.AnalyzedAt,
	)
	return r, err
}

func RecentAnalyses(db *sql.DB, limit int) ([]AnalysisRecord, error) {
	rows, err := db.Query(
		`SELECT id, district, season, irrigation, soil_type, language, report_text, result_json, success, error, analyzed_at
		 FROM analyses ORDER BY analyzed_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var r AnalysisRecord
		if err := rows.Scan(
			&r.ID, &r.District, &r.Season, &r.Irrigation, &r.SoilType, &r.Language,
			&r.ReportText, &r.ResultJSON, &r.Success, &r.Error, &r.AnalyzedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func AnalysesByDistrict(db *sql.DB, district string, limit int) ([]AnalysisRecord, error) {
	rows, err := db.Query(
		`SELECT id, district, season, irrigation, soil_type, language, report_text, result_json, success, error, analyzed_at
		 FROM analyses WHERE district = ? ORDER BY analyzed_at DESC, id DESC LIMIT ?`,
		district, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var r AnalysisRecord
		if err := rows.Scan(
			&r.ID, &r.District, &r.Season, &r.Irrigation, &r.SoilType, &r.Language,
			&r.ReportText, &r.ResultJSON, &r.Success, &r.Error, &r.AnalyzedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PurgeBefore deletes history rows older than the cutoff. Returns the number
// of rows removed.
func PurgeBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM analyses WHERE analyzed_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
