package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	_ "modernc.org/sqlite"

	"attribledger/native/agreement"
	"attribledger/native/compliance"
	"attribledger/native/fingerprint"
	"attribledger/native/revenue"
)

// SQLiteStore is the durable backend for agreements, the append-only revenue
// and compliance logs, and the per-project fingerprint records. It implements
// the State interface of each engine package.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if necessary initialises) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS agreements (
            id TEXT PRIMARY KEY,
            project_id TEXT NOT NULL,
            counterparty TEXT NOT NULL,
            platform TEXT NOT NULL,
            split_ratios TEXT NOT NULL,
            settlement_reference TEXT,
            fingerprint_token TEXT,
            state TEXT NOT NULL,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_agreements_project ON agreements(project_id);`,
		`CREATE TABLE IF NOT EXISTS revenue_events (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            agreement_id TEXT NOT NULL,
            currency TEXT NOT NULL,
            gross TEXT NOT NULL,
            counterparty_share TEXT NOT NULL,
            platform_share TEXT NOT NULL,
            settlement_handle TEXT,
            recorded_at TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_revenue_agreement ON revenue_events(agreement_id);`,
		`CREATE TABLE IF NOT EXISTS compliance_baselines (
            agreement_id TEXT PRIMARY KEY,
            requirements TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS compliance_records (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            agreement_id TEXT NOT NULL,
            evaluated_at TEXT NOT NULL,
            requirements TEXT NOT NULL,
            met INTEGER NOT NULL,
            total INTEGER NOT NULL,
            score REAL NOT NULL,
            violations TEXT NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_compliance_agreement ON compliance_records(agreement_id);`,
		`CREATE TABLE IF NOT EXISTS fingerprints (
            project_id TEXT PRIMARY KEY,
            token TEXT NOT NULL UNIQUE,
            embedded_form TEXT NOT NULL,
            schema_version TEXT NOT NULL,
            minted_at TEXT NOT NULL
        );`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func decodeTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func encodeAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func decodeAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("malformed stored amount %q", raw)
	}
	return v, nil
}

// --- agreement.State ---

// AgreementGet implements agreement.State.
func (s *SQLiteStore) AgreementGet(id string) (*agreement.Agreement, bool, error) {
	row := s.db.QueryRow(`SELECT id, project_id, counterparty, platform, split_ratios,
        COALESCE(settlement_reference, ''), COALESCE(fingerprint_token, ''), state, created_at, updated_at
        FROM agreements WHERE id = ?`, id)
	return scanAgreement(row)
}

// AgreementByProject implements agreement.State. The most recently updated
// record wins when a suspended agreement has been superseded.
func (s *SQLiteStore) AgreementByProject(projectID string) (*agreement.Agreement, bool, error) {
	row := s.db.QueryRow(`SELECT id, project_id, counterparty, platform, split_ratios,
        COALESCE(settlement_reference, ''), COALESCE(fingerprint_token, ''), state, created_at, updated_at
        FROM agreements WHERE project_id = ? ORDER BY updated_at DESC LIMIT 1`, projectID)
	return scanAgreement(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (*agreement.Agreement, bool, error) {
	var (
		ag                 agreement.Agreement
		splitsRaw          string
		state              string
		createdRaw, updRaw string
	)
	err := row.Scan(&ag.AgreementID, &ag.ProjectID, &ag.CounterpartyIdentity, &ag.PlatformIdentity,
		&splitsRaw, &ag.SettlementReference, &ag.FingerprintToken, &state, &createdRaw, &updRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal([]byte(splitsRaw), &ag.SplitRatios); err != nil {
		return nil, false, fmt.Errorf("decode split ratios: %w", err)
	}
	ag.LifecycleState = agreement.LifecycleState(state)
	if ag.CreatedAt, err = decodeTime(createdRaw); err != nil {
		return nil, false, err
	}
	if ag.UpdatedAt, err = decodeTime(updRaw); err != nil {
		return nil, false, err
	}
	return &ag, true, nil
}

// AgreementPut implements agreement.State.
func (s *SQLiteStore) AgreementPut(ag *agreement.Agreement) error {
	if ag == nil {
		return nil
	}
	splits, err := json.Marshal(ag.SplitRatios)
	if err != nil {
		return fmt.Errorf("encode split ratios: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO agreements
        (id, project_id, counterparty, platform, split_ratios, settlement_reference, fingerprint_token, state, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            settlement_reference = excluded.settlement_reference,
            fingerprint_token = excluded.fingerprint_token,
            state = excluded.state,
            updated_at = excluded.updated_at`,
		ag.AgreementID, ag.ProjectID, ag.CounterpartyIdentity, ag.PlatformIdentity,
		string(splits), ag.SettlementReference, ag.FingerprintToken,
		string(ag.LifecycleState), encodeTime(ag.CreatedAt), encodeTime(ag.UpdatedAt))
	return err
}

// AgreementList implements agreement.State.
func (s *SQLiteStore) AgreementList() ([]*agreement.Agreement, error) {
	rows, err := s.db.Query(`SELECT id, project_id, counterparty, platform, split_ratios,
        COALESCE(settlement_reference, ''), COALESCE(fingerprint_token, ''), state, created_at, updated_at
        FROM agreements ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*agreement.Agreement
	for rows.Next() {
		ag, ok, err := scanAgreement(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, ag)
		}
	}
	return out, rows.Err()
}

// --- revenue.State ---

// EventGet implements revenue.State.
func (s *SQLiteStore) EventGet(id string) (*revenue.Event, bool, error) {
	row := s.db.QueryRow(`SELECT id, agreement_id, currency, gross, counterparty_share,
        platform_share, COALESCE(settlement_handle, ''), recorded_at
        FROM revenue_events WHERE id = ?`, id)
	return scanEvent(row)
}

func scanEvent(row rowScanner) (*revenue.Event, bool, error) {
	var (
		evt                      revenue.Event
		grossRaw, cpRaw, platRaw string
		recordedRaw              string
	)
	err := row.Scan(&evt.EventID, &evt.AgreementID, &evt.CurrencyCode,
		&grossRaw, &cpRaw, &platRaw, &evt.SettlementHandle, &recordedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if evt.GrossAmount, err = decodeAmount(grossRaw); err != nil {
		return nil, false, err
	}
	if evt.CounterpartyShare, err = decodeAmount(cpRaw); err != nil {
		return nil, false, err
	}
	if evt.PlatformShare, err = decodeAmount(platRaw); err != nil {
		return nil, false, err
	}
	if evt.RecordedAt, err = decodeTime(recordedRaw); err != nil {
		return nil, false, err
	}
	return &evt, true, nil
}

// EventPut implements revenue.State. The share columns are written once on
// insert; only the settlement handle may be set afterwards.
func (s *SQLiteStore) EventPut(evt *revenue.Event) error {
	if evt == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO revenue_events
        (id, agreement_id, currency, gross, counterparty_share, platform_share, settlement_handle, recorded_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            settlement_handle = excluded.settlement_handle`,
		evt.EventID, evt.AgreementID, evt.CurrencyCode,
		encodeAmount(evt.GrossAmount), encodeAmount(evt.CounterpartyShare), encodeAmount(evt.PlatformShare),
		evt.SettlementHandle, encodeTime(evt.RecordedAt))
	return err
}

// EventsByAgreement implements revenue.State. Events come back in append order.
func (s *SQLiteStore) EventsByAgreement(agreementID string) ([]*revenue.Event, error) {
	rows, err := s.db.Query(`SELECT id, agreement_id, currency, gross, counterparty_share,
        platform_share, COALESCE(settlement_handle, ''), recorded_at
        FROM revenue_events WHERE agreement_id = ? ORDER BY seq`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*revenue.Event
	for rows.Next() {
		evt, ok, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, evt)
		}
	}
	return out, rows.Err()
}

// --- compliance.State ---

// BaselineGet implements compliance.State.
func (s *SQLiteStore) BaselineGet(agreementID string) ([]compliance.Requirement, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT requirements FROM compliance_baselines WHERE agreement_id = ?`, agreementID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var reqs []compliance.Requirement
	if err := json.Unmarshal([]byte(raw), &reqs); err != nil {
		return nil, false, fmt.Errorf("decode baseline: %w", err)
	}
	return reqs, true, nil
}

// BaselinePut implements compliance.State.
func (s *SQLiteStore) BaselinePut(agreementID string, requirements []compliance.Requirement) error {
	raw, err := json.Marshal(requirements)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO compliance_baselines (agreement_id, requirements) VALUES (?, ?)
        ON CONFLICT(agreement_id) DO UPDATE SET requirements = excluded.requirements`,
		agreementID, string(raw))
	return err
}

// RecordPut implements compliance.State. Records are insert-only.
func (s *SQLiteStore) RecordPut(record *compliance.Record) error {
	if record == nil {
		return nil
	}
	reqs, err := json.Marshal(record.Requirements)
	if err != nil {
		return fmt.Errorf("encode requirements: %w", err)
	}
	violations, err := json.Marshal(record.Violations)
	if err != nil {
		return fmt.Errorf("encode violations: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO compliance_records
        (id, agreement_id, evaluated_at, requirements, met, total, score, violations)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RecordID, record.AgreementID, encodeTime(record.EvaluatedAt),
		string(reqs), record.RequirementsMet, record.RequirementsTotal, record.Score, string(violations))
	return err
}

func scanRecord(row rowScanner) (*compliance.Record, bool, error) {
	var (
		record                 compliance.Record
		evaluatedRaw           string
		reqsRaw, violationsRaw string
	)
	err := row.Scan(&record.RecordID, &record.AgreementID, &evaluatedRaw,
		&reqsRaw, &record.RequirementsMet, &record.RequirementsTotal, &record.Score, &violationsRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if record.EvaluatedAt, err = decodeTime(evaluatedRaw); err != nil {
		return nil, false, err
	}
	if err := json.Unmarshal([]byte(reqsRaw), &record.Requirements); err != nil {
		return nil, false, fmt.Errorf("decode requirements: %w", err)
	}
	if err := json.Unmarshal([]byte(violationsRaw), &record.Violations); err != nil {
		return nil, false, fmt.Errorf("decode violations: %w", err)
	}
	return &record, true, nil
}

// RecordsByAgreement implements compliance.State.
func (s *SQLiteStore) RecordsByAgreement(agreementID string) ([]*compliance.Record, error) {
	rows, err := s.db.Query(`SELECT id, agreement_id, evaluated_at, requirements, met, total, score, violations
        FROM compliance_records WHERE agreement_id = ? ORDER BY seq`, agreementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*compliance.Record
	for rows.Next() {
		record, ok, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, record)
		}
	}
	return out, rows.Err()
}

// LatestRecord implements compliance.State.
func (s *SQLiteStore) LatestRecord(agreementID string) (*compliance.Record, bool, error) {
	row := s.db.QueryRow(`SELECT id, agreement_id, evaluated_at, requirements, met, total, score, violations
        FROM compliance_records WHERE agreement_id = ? ORDER BY seq DESC LIMIT 1`, agreementID)
	return scanRecord(row)
}

// --- fingerprint.State ---

// FingerprintGet implements fingerprint.State.
func (s *SQLiteStore) FingerprintGet(projectID string) (*fingerprint.Fingerprint, bool, error) {
	row := s.db.QueryRow(`SELECT project_id, token, embedded_form, schema_version, minted_at
        FROM fingerprints WHERE project_id = ?`, projectID)
	return scanFingerprint(row)
}

// FingerprintByToken implements fingerprint.State.
func (s *SQLiteStore) FingerprintByToken(token string) (*fingerprint.Fingerprint, bool, error) {
	row := s.db.QueryRow(`SELECT project_id, token, embedded_form, schema_version, minted_at
        FROM fingerprints WHERE token = ?`, token)
	return scanFingerprint(row)
}

func scanFingerprint(row rowScanner) (*fingerprint.Fingerprint, bool, error) {
	var (
		fp        fingerprint.Fingerprint
		mintedRaw string
	)
	err := row.Scan(&fp.ProjectID, &fp.Token, &fp.EmbeddedForm, &fp.SchemaVersion, &mintedRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if fp.MintedAt, err = decodeTime(mintedRaw); err != nil {
		return nil, false, err
	}
	return &fp, true, nil
}

// FingerprintPut implements fingerprint.State. Fingerprints are mint-once; a
// conflicting insert for the same project is ignored.
func (s *SQLiteStore) FingerprintPut(fp *fingerprint.Fingerprint) error {
	if fp == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO fingerprints (project_id, token, embedded_form, schema_version, minted_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(project_id) DO NOTHING`,
		fp.ProjectID, fp.Token, fp.EmbeddedForm, fp.SchemaVersion, encodeTime(fp.MintedAt))
	return err
}
