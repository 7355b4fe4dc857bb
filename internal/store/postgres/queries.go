package postgres

const queryUpsertTrigger = `
INSERT INTO triggers (
    id, work_item_id, user_id, scheduled_at, state, source, external_event_id,
    planned_priority, planned_labels, planned_due_at, created_at, updated_at
)
VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7, $8, $9, $10, $10)
ON CONFLICT (work_item_id, user_id) WHERE state = 'pending'
DO UPDATE SET
    scheduled_at = EXCLUDED.scheduled_at,
    source = EXCLUDED.source,
    external_event_id = EXCLUDED.external_event_id,
    planned_priority = EXCLUDED.planned_priority,
    planned_labels = EXCLUDED.planned_labels,
    planned_due_at = EXCLUDED.planned_due_at,
    updated_at = EXCLUDED.updated_at
RETURNING id, work_item_id, user_id, scheduled_at, state, source, external_event_id,
    planned_priority, planned_labels, planned_due_at, last_evaluated_at, created_at, updated_at
`

const queryGetTrigger = `
SELECT id, work_item_id, user_id, scheduled_at, state, source, external_event_id,
    planned_priority, planned_labels, planned_due_at, last_evaluated_at, created_at, updated_at
FROM triggers
WHERE id = $1
`

const queryDueTriggers = `
SELECT id, work_item_id, user_id, scheduled_at, state, source, external_event_id,
    planned_priority, planned_labels, planned_due_at, last_evaluated_at, created_at, updated_at
FROM triggers
WHERE state = 'pending'
  AND scheduled_at <= $1
ORDER BY scheduled_at ASC
LIMIT $2
`

const queryPendingTriggers = `
SELECT id, work_item_id, user_id, scheduled_at, state, source, external_event_id,
    planned_priority, planned_labels, planned_due_at, last_evaluated_at, created_at, updated_at
FROM triggers
WHERE state = 'pending'
ORDER BY scheduled_at ASC
LIMIT $1
`

const queryListTriggers = `
SELECT id, work_item_id, user_id, scheduled_at, state, source, external_event_id,
    planned_priority, planned_labels, planned_due_at, last_evaluated_at, created_at, updated_at
FROM triggers
WHERE ($1 = '' OR state = $1)
ORDER BY scheduled_at DESC
LIMIT $2 OFFSET $3
`

const queryMarkFired = `
UPDATE triggers
SET state = 'fired', last_evaluated_at = $2, updated_at = $2
WHERE id = $1
  AND state = 'pending'
`

const queryCancelTrigger = `
UPDATE triggers
SET state = 'cancelled', updated_at = NOW()
WHERE id = $1
  AND state = 'pending'
`

const queryRescheduleTrigger = `
UPDATE triggers
SET scheduled_at = $2, updated_at = NOW()
WHERE id = $1
  AND state = 'pending'
`

const queryTouchEvaluated = `
UPDATE triggers
SET last_evaluated_at = $2, updated_at = $2
WHERE id = $1
  AND state = 'pending'
`

const queryGetTriggerState = `
SELECT state FROM triggers WHERE id = $1
`

const queryInsertChangeEvent = `
INSERT INTO change_events (source, external_id, kind, work_item_id, user_id, received_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryDeleteChangeEvent = `
DELETE FROM change_events
WHERE source = $1 AND external_id = $2
`

const queryGetItemSnapshot = `
SELECT id, kind, title, priority, due_at, created_at, size, labels, status,
    component, file_paths, ci_state, approvals, blocked, mergeable
FROM item_snapshots
WHERE id = $1
`

const queryUpsertItemSnapshot = `
INSERT INTO item_snapshots (
    id, kind, title, priority, due_at, created_at, size, labels, status,
    component, file_paths, ci_state, approvals, blocked, mergeable, updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
ON CONFLICT (id)
DO UPDATE SET
    kind = EXCLUDED.kind,
    title = EXCLUDED.title,
    priority = EXCLUDED.priority,
    due_at = EXCLUDED.due_at,
    size = EXCLUDED.size,
    labels = EXCLUDED.labels,
    status = EXCLUDED.status,
    component = EXCLUDED.component,
    file_paths = EXCLUDED.file_paths,
    ci_state = EXCLUDED.ci_state,
    approvals = EXCLUDED.approvals,
    blocked = EXCLUDED.blocked,
    mergeable = EXCLUDED.mergeable,
    updated_at = NOW()
`

const queryInsertDecision = `
INSERT INTO decisions (
    id, trigger_id, work_item_id, user_id, action, criticality, feasibility,
    reasoning, factors, guardrails, delegate_id, status, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
`

const queryListDecisions = `
SELECT id, trigger_id, work_item_id, user_id, action, criticality, feasibility,
    reasoning, factors, guardrails, delegate_id, status, created_at
FROM decisions
WHERE ($1 = '' OR user_id = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

const queryGetDecisionStatus = `
SELECT status FROM decisions WHERE id = $1
`

const queryUpdateDecisionStatus = `
UPDATE decisions
SET status = $1
WHERE id = $2
  AND status NOT IN ('delivered', 'failed')
`

const queryOrphanedDecisions = `
SELECT id, trigger_id, work_item_id, user_id, action, criticality, feasibility,
    reasoning, factors, guardrails, delegate_id, status, created_at
FROM decisions
WHERE status = 'emitted'
  AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

const queryInsertDelegationRecord = `
INSERT INTO delegation_records (
    id, work_item_id, teammate_id, ownership, workload, availability, total, reasoning, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const queryInsertDeliveryAttempt = `
INSERT INTO delivery_attempts (id, decision_id, attempt, status_code, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
