package config

import (
	"encoding/json"
	"fmt"
)

// migration upgrades a raw (schema-unaware) config document from version v
// to v+1. Migrations run in sequence until SchemaVersion is reached, before
// the strict decode, so old files keep loading without data loss.
type migration func(doc map[string]any) error

var migrations = map[int]migration{
	0: migrateV0toV1,
	1: migrateV1toV2,
}

// migrate applies pending migrations in version order and stamps the doc
// with the resulting version.
func migrate(doc map[string]any) error {
	v := intField(doc, "version")
	if v > SchemaVersion {
		return fmt.Errorf("config: schema version %d is newer than supported %d", v, SchemaVersion)
	}
	for v < SchemaVersion {
		m, ok := migrations[v]
		if !ok {
			return fmt.Errorf("config: no migration from schema version %d", v)
		}
		if err := m(doc); err != nil {
			return fmt.Errorf("config: migration v%d->v%d: %w", v, v+1, err)
		}
		v++
		doc["version"] = v
	}
	return nil
}

// statsV0Keys maps the flattened v0 statistics fields to their nested names.
var statsV0Keys = map[string]string{
	"total_runs":             "total_runs",
	"ok_runs":                "ok_runs",
	"error_runs":             "error_runs",
	"failed_runs":            "failed_runs",
	"last_successful_run_dt": "last_successful_run_at",
	"last_error_run_dt":      "last_error_run_at",
	"last_fail_run_dt":       "last_fail_run_at",
	"min_duration":           "min_duration_seconds",
	"max_duration":           "max_duration_seconds",
	"avg_duration":           "avg_duration_seconds",
}

// v0 -> v1: drop the cached next-run timestamp (now runtime-only), derive
// run_mode from whether a script body is present, and gather the flattened
// statistics fields under "stats".
func migrateV0toV1(doc map[string]any) error {
	cmds, _ := doc["commands"].([]any)
	for _, c := range cmds {
		cmd, ok := c.(map[string]any)
		if !ok {
			continue
		}
		delete(cmd, "next_run_dt")
		delete(cmd, "next_run_at")
		if _, has := cmd["run_mode"]; !has {
			if s, _ := cmd["script"].(string); s != "" {
				cmd["run_mode"] = string(RunModeScript)
			} else {
				cmd["run_mode"] = string(RunModeCommand)
			}
		}
		stats := map[string]any{}
		for old, next := range statsV0Keys {
			if v, has := cmd[old]; has {
				if v != nil {
					stats[next] = v
				}
				delete(cmd, old)
			}
		}
		if len(stats) > 0 {
			cmd["stats"] = stats
		}
	}
	return nil
}

// v1 -> v2: the notification/shell override fields used to be nullable
// booleans; they are now explicit tri-states.
func migrateV1toV2(doc map[string]any) error {
	triFields := []string{
		"run_in_shell",
		"include_output_in_notifications",
		"show_complete_notifications",
		"show_error_notifications",
	}
	cmds, _ := doc["commands"].([]any)
	for _, c := range cmds {
		cmd, ok := c.(map[string]any)
		if !ok {
			continue
		}
		for _, f := range triFields {
			switch v := cmd[f].(type) {
			case bool:
				if v {
					cmd[f] = string(TriYes)
				} else {
					cmd[f] = string(TriNo)
				}
			case nil:
				delete(cmd, f)
			}
		}
	}
	return nil
}

func intField(doc map[string]any, key string) int {
	switch v := doc[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	default:
		return 0
	}
}
