package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				seq BIGSERIAL NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 0,
				priority INTEGER NOT NULL DEFAULT 0,
				is_active BOOLEAN NOT NULL DEFAULT true,
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				conditions JSONB NOT NULL DEFAULT '[]',
				actions JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_seq ON workflows(seq);
			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type);
		`,
		2: `
			CREATE TABLE workflow_schedules (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				cron_expression VARCHAR(255) NOT NULL,
				timezone VARCHAR(100) NOT NULL DEFAULT '',
				next_run TIMESTAMP WITH TIME ZONE NOT NULL,
				last_fired_at TIMESTAMP WITH TIME ZONE,
				active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_schedules_next_run ON workflow_schedules(next_run) WHERE active;
		`,
		3: `
			CREATE TABLE approval_requests (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				correlation_id VARCHAR(255) NOT NULL,
				state VARCHAR(20) NOT NULL CHECK (state IN ('PENDING', 'APPROVED', 'REJECTED', 'EXPIRED')),
				deadline TIMESTAMP WITH TIME ZONE NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				resolved_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_approval_requests_pending ON approval_requests(deadline) WHERE state = 'PENDING';
			CREATE INDEX idx_approval_requests_correlation ON approval_requests(correlation_id);
		`,
	}
}
