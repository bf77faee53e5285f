package mysql

import (
	"context"
	"fmt"
)

// schemaStatements is the idempotent bootstrap DDL, executed in order on
// every open. Indexes live inline so the statements stay re-runnable.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS work_items (
		work_item_id        CHAR(36)      NOT NULL,
		parent_work_item_id CHAR(36)      NULL,
		name                VARCHAR(255)  NOT NULL,
		description         VARCHAR(1024) NULL,
		status              VARCHAR(20)   NOT NULL DEFAULT 'todo',
		priority            VARCHAR(10)   NOT NULL DEFAULT 'medium',
		due_date            DATETIME(6)   NULL,
		order_key           VARCHAR(255)  NOT NULL,
		shortname           VARCHAR(64)   NOT NULL,
		is_active           TINYINT(1)    NOT NULL DEFAULT 1,
		created_at          DATETIME(6)   NOT NULL,
		updated_at          DATETIME(6)   NOT NULL,
		PRIMARY KEY (work_item_id),
		KEY idx_work_items_sibling_order (parent_work_item_id, is_active, order_key),
		KEY idx_work_items_active_created (is_active, created_at),
		CONSTRAINT fk_work_items_parent
			FOREIGN KEY (parent_work_item_id) REFERENCES work_items (work_item_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS work_item_dependencies (
		work_item_id            CHAR(36)    NOT NULL,
		depends_on_work_item_id CHAR(36)    NOT NULL,
		dependency_type         VARCHAR(20) NOT NULL DEFAULT 'finish-to-start',
		is_active               TINYINT(1)  NOT NULL DEFAULT 1,
		PRIMARY KEY (work_item_id, depends_on_work_item_id),
		KEY idx_dependencies_from (work_item_id, is_active),
		KEY idx_dependencies_to (depends_on_work_item_id, is_active),
		CONSTRAINT fk_dependencies_item
			FOREIGN KEY (work_item_id) REFERENCES work_items (work_item_id),
		CONSTRAINT fk_dependencies_target
			FOREIGN KEY (depends_on_work_item_id) REFERENCES work_items (work_item_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	// seq gives a total commit order; the timestamp index alone cannot
	// break ties between actions recorded in the same millisecond.
	`CREATE TABLE IF NOT EXISTS action_history (
		action_id           CHAR(36)    NOT NULL,
		seq                 BIGINT      NOT NULL AUTO_INCREMENT,
		action_type         VARCHAR(64) NOT NULL,
		` + "`timestamp`" + `         DATETIME(6) NOT NULL,
		description         TEXT        NOT NULL,
		is_undone           TINYINT(1)  NOT NULL DEFAULT 0,
		undone_at_action_id CHAR(36)    NULL,
		PRIMARY KEY (action_id),
		UNIQUE KEY idx_action_history_seq (seq),
		KEY idx_action_history_timestamp (` + "`timestamp`" + ` DESC)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS undo_steps (
		action_id  CHAR(36)     NOT NULL,
		step_order INT          NOT NULL,
		step_type  VARCHAR(10)  NOT NULL,
		table_name VARCHAR(64)  NOT NULL,
		record_id  VARCHAR(128) NOT NULL,
		old_data   JSON         NULL,
		new_data   JSON         NULL,
		PRIMARY KEY (action_id, step_order),
		CONSTRAINT fk_undo_steps_action
			FOREIGN KEY (action_id) REFERENCES action_history (action_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	// Singleton row locked FOR UPDATE to serialize undo/redo.
	`CREATE TABLE IF NOT EXISTS history_lock (
		id TINYINT NOT NULL,
		PRIMARY KEY (id)
	) ENGINE=InnoDB`,

	`INSERT IGNORE INTO history_lock (id) VALUES (1)`,
}

func (s *Store) ensureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
