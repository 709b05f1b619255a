package clientdb

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/clientdb/store"
)

// Bump schemaVersion when the records table shape changes (table is dropped
// and recreated); bump dataVersion when only the payload encoding changes
// (rows are wiped, table retained).
const (
	schemaVersion = "1"
	dataVersion   = "1"
)

const (
	settingSchemaVersion = "dbSchemaVersion"
	settingDataVersion   = "dbDataStructure"
	settingCommitted     = "settingsCommitted"
)

// migrate upgrades the persistent schema at startup. Every step is
// re-runnable and bracketed by the commit flag: "0" before the structural
// change, "1" only after it and its version write succeeded. A crash
// mid-upgrade leaves the flag at "0", which forces both steps on the next
// start.
func migrate(ctx context.Context, st store.Adapter, log Logger) error {
	if err := st.EnsureTables(ctx); err != nil {
		return fmt.Errorf("clientdb: ensure tables: %w", err)
	}

	committed, ok, err := st.GetSetting(ctx, settingCommitted)
	if err != nil {
		return fmt.Errorf("clientdb: read commit flag: %w", err)
	}
	force := !ok || committed != "1"

	stored, _, err := st.GetSetting(ctx, settingSchemaVersion)
	if err != nil {
		return fmt.Errorf("clientdb: read schema version: %w", err)
	}
	if force || stored != schemaVersion {
		log.Info("migrating schema", Fields{"from": stored, "to": schemaVersion, "forced": force})
		if err := st.SetSetting(ctx, settingCommitted, "0"); err != nil {
			return fmt.Errorf("clientdb: mark migration started: %w", err)
		}
		if err := st.RecreateRecordsTable(ctx); err != nil {
			return fmt.Errorf("clientdb: recreate records table: %w", err)
		}
		if err := st.SetSetting(ctx, settingSchemaVersion, schemaVersion); err != nil {
			return fmt.Errorf("clientdb: write schema version: %w", err)
		}
		if err := st.SetSetting(ctx, settingCommitted, "1"); err != nil {
			return fmt.Errorf("clientdb: mark migration committed: %w", err)
		}
	}

	storedData, _, err := st.GetSetting(ctx, settingDataVersion)
	if err != nil {
		return fmt.Errorf("clientdb: read data version: %w", err)
	}
	if force || storedData != dataVersion {
		log.Info("migrating data structure", Fields{"from": storedData, "to": dataVersion, "forced": force})
		if err := st.SetSetting(ctx, settingCommitted, "0"); err != nil {
			return fmt.Errorf("clientdb: mark migration started: %w", err)
		}
		if err := st.DeleteAll(ctx); err != nil {
			return fmt.Errorf("clientdb: wipe rows: %w", err)
		}
		if err := st.Compact(ctx); err != nil {
			return fmt.Errorf("clientdb: compact store: %w", err)
		}
		if err := st.SetSetting(ctx, settingDataVersion, dataVersion); err != nil {
			return fmt.Errorf("clientdb: write data version: %w", err)
		}
		if err := st.SetSetting(ctx, settingCommitted, "1"); err != nil {
			return fmt.Errorf("clientdb: mark migration committed: %w", err)
		}
	}

	return nil
}
