package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate.  Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS class_templates (
		id                   CHAR(36)     NOT NULL PRIMARY KEY,
		name                 VARCHAR(200) NOT NULL,
		difficulty           VARCHAR(20)  NOT NULL,
		instructor_id        VARCHAR(64)  NOT NULL,
		default_duration_sec INT          NOT NULL,
		default_capacity     INT          NOT NULL,
		recurrence           TEXT         NULL,
		created_at           DATETIME(6)  NOT NULL,
		updated_at           DATETIME(6)  NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS class_instances (
		id             CHAR(36)    NOT NULL PRIMARY KEY,
		template_id    CHAR(36)    NOT NULL,
		instructor_id  VARCHAR(64) NOT NULL,
		starts_at      DATETIME(6) NOT NULL,
		duration_sec   INT         NOT NULL,
		capacity       INT         NOT NULL,
		occupied_seats INT         NOT NULL DEFAULT 0,
		status         VARCHAR(20) NOT NULL,
		version        BIGINT      NOT NULL DEFAULT 0,
		created_at     DATETIME(6) NOT NULL,
		updated_at     DATETIME(6) NOT NULL,
		UNIQUE KEY uq_instance_template_start (template_id, starts_at),
		KEY idx_instance_status_start (status, starts_at),
		CONSTRAINT fk_instance_template FOREIGN KEY (template_id) REFERENCES class_templates (id),
		CONSTRAINT chk_instance_seats CHECK (occupied_seats >= 0 AND occupied_seats <= capacity)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS user_packages (
		id                CHAR(36)    NOT NULL PRIMARY KEY,
		user_id           VARCHAR(64) NOT NULL,
		credits_purchased INT         NOT NULL,
		credits_remaining INT         NOT NULL,
		expires_at        DATETIME(6) NOT NULL,
		created_at        DATETIME(6) NOT NULL,
		KEY idx_package_user (user_id, expires_at),
		CONSTRAINT chk_package_credits CHECK (credits_remaining >= 0 AND credits_remaining <= credits_purchased)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id           CHAR(36)    NOT NULL PRIMARY KEY,
		instance_id  CHAR(36)    NOT NULL,
		user_id      VARCHAR(64) NOT NULL,
		state        VARCHAR(20) NOT NULL,
		payment_mode VARCHAR(20) NOT NULL,
		package_id   CHAR(36)    NULL,
		created_at   DATETIME(6) NOT NULL,
		cancelled_at DATETIME(6) NULL,
		updated_at   DATETIME(6) NOT NULL,
		KEY idx_booking_instance_user (instance_id, user_id, state),
		KEY idx_booking_user (user_id, created_at),
		CONSTRAINT fk_booking_instance FOREIGN KEY (instance_id) REFERENCES class_instances (id),
		CONSTRAINT fk_booking_package FOREIGN KEY (package_id) REFERENCES user_packages (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS waitlist_entries (
		id                   CHAR(36)    NOT NULL PRIMARY KEY,
		instance_id          CHAR(36)    NOT NULL,
		user_id              VARCHAR(64) NOT NULL,
		position             INT         NULL,
		status               VARCHAR(20) NOT NULL,
		payment_mode         VARCHAR(20) NOT NULL,
		joined_at            DATETIME(6) NOT NULL,
		booking_id           CHAR(36)    NULL,
		promotion_expires_at DATETIME(6) NULL,
		UNIQUE KEY uq_waitlist_user (instance_id, user_id),
		UNIQUE KEY uq_waitlist_position (instance_id, position),
		KEY idx_waitlist_due (status, promotion_expires_at),
		KEY idx_waitlist_booking (booking_id),
		CONSTRAINT fk_waitlist_instance FOREIGN KEY (instance_id) REFERENCES class_instances (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates the booking tables when they do not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
