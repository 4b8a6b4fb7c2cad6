package sqlstore

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS plans (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		usage_limit BIGINT NOT NULL CHECK (usage_limit > 0),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		endpoint TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plan_permissions (
		plan_id BIGINT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
		permission_id BIGINT NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		PRIMARY KEY (plan_id, permission_id)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		plan_id BIGINT NOT NULL,
		usage_count BIGINT NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		start_date TIMESTAMP WITH TIME ZONE NOT NULL,
		end_date TIMESTAMP WITH TIME ZONE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_active_user ON subscriptions(user_id) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_plan_id ON subscriptions(plan_id)`,
	`CREATE TABLE IF NOT EXISTS usage_audit (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		service_id VARCHAR(64) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		usage_count BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_audit_user_id ON usage_audit(user_id, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_audit_service_id ON usage_audit(service_id, id DESC)`,
	`CREATE TABLE IF NOT EXISTS payment_audit (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		currency VARCHAR(8) NOT NULL,
		outcome VARCHAR(16) NOT NULL,
		reference VARCHAR(255) NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_audit_user_id ON payment_audit(user_id, id DESC)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS plans (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		description TEXT NOT NULL DEFAULT '',
		usage_limit INTEGER NOT NULL CHECK (usage_limit > 0),
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS permissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		endpoint TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS plan_permissions (
		plan_id INTEGER NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
		permission_id INTEGER NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
		PRIMARY KEY (plan_id, permission_id)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		plan_id INTEGER NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 0 CHECK (usage_count >= 0),
		is_active BOOLEAN NOT NULL DEFAULT 1,
		start_date TIMESTAMP NOT NULL,
		end_date TIMESTAMP
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_active_user ON subscriptions(user_id) WHERE is_active`,
	`CREATE INDEX IF NOT EXISTS idx_subscriptions_plan_id ON subscriptions(plan_id)`,
	`CREATE TABLE IF NOT EXISTS usage_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		service_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_audit_user_id ON usage_audit(user_id, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_audit_service_id ON usage_audit(service_id, id DESC)`,
	`CREATE TABLE IF NOT EXISTS payment_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		currency TEXT NOT NULL,
		outcome TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payment_audit_user_id ON payment_audit(user_id, id DESC)`,
}
