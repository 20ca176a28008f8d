package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/legionruntime/legion/pkg/models"
)

// SQLiteApprovalStore implements ApprovalStore on SQLite.
type SQLiteApprovalStore struct {
	db *sql.DB
}

const approvalColumns = `id, agent_id, user_id, action_type, tool_id, params,
	title, description, reason, triggered_by, confidence, priority, status,
	master_contact, notification_channel, modified_params, resolved_by,
	resolve_note, expires_at, created_at, resolved_at, resumed_run_at`

func (s *SQLiteApprovalStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("approval request is required")
	}
	params, err := marshalJSON(req.Params)
	if err != nil {
		return err
	}
	modified, err := marshalJSON(req.ModifiedParams)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approval_queue (`+approvalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		req.ID, req.AgentID, req.UserID, req.ActionType, req.ToolID,
		nullString(params), nullString(req.Title), nullString(req.Description),
		nullString(req.Reason), string(req.TriggeredBy), req.Confidence,
		string(req.Priority), string(req.Status), nullString(req.MasterContact),
		nullString(req.NotificationChannel), nullString(modified),
		nullString(req.ResolvedBy), nullString(req.ResolveNote), req.ExpiresAt,
		req.CreatedAt, nullTime(req.ResolvedAt), nullTime(req.ResumedRunAt),
	)
	return err
}

func scanApproval(row interface{ Scan(...any) error }) (*models.ApprovalRequest, error) {
	var (
		req                      models.ApprovalRequest
		params, modified         sql.NullString
		title, description       sql.NullString
		reason, masterContact    sql.NullString
		channel, resolvedBy      sql.NullString
		resolveNote              sql.NullString
		triggeredBy              string
		priority, status         string
		resolvedAt, resumedRunAt sql.NullTime
	)
	err := row.Scan(
		&req.ID, &req.AgentID, &req.UserID, &req.ActionType, &req.ToolID,
		&params, &title, &description, &reason, &triggeredBy, &req.Confidence,
		&priority, &status, &masterContact, &channel, &modified, &resolvedBy,
		&resolveNote, &req.ExpiresAt, &req.CreatedAt, &resolvedAt, &resumedRunAt,
	)
	if err != nil {
		return nil, err
	}
	req.Title = title.String
	req.Description = description.String
	req.Reason = reason.String
	req.TriggeredBy = models.TriggerType(triggeredBy)
	req.Priority = models.ApprovalPriority(priority)
	req.Status = models.ApprovalStatus(status)
	req.MasterContact = masterContact.String
	req.NotificationChannel = channel.String
	req.ResolvedBy = resolvedBy.String
	req.ResolveNote = resolveNote.String
	req.ResolvedAt = timePtr(resolvedAt)
	req.ResumedRunAt = timePtr(resumedRunAt)
	if err := unmarshalJSON(params.String, &req.Params); err != nil {
		return nil, fmt.Errorf("decode approval params: %w", err)
	}
	if err := unmarshalJSON(modified.String, &req.ModifiedParams); err != nil {
		return nil, fmt.Errorf("decode modified params: %w", err)
	}
	return &req, nil
}

func (s *SQLiteApprovalStore) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+approvalColumns+` FROM approval_queue WHERE id = ?`, id)
	req, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (s *SQLiteApprovalStore) Update(ctx context.Context, req *models.ApprovalRequest) error {
	if req == nil || req.ID == "" {
		return fmt.Errorf("approval request is required")
	}
	modified, err := marshalJSON(req.ModifiedParams)
	if err != nil {
		return err
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE approval_queue SET status = ?, modified_params = ?,
			resolved_by = ?, resolve_note = ?, resolved_at = ?, resumed_run_at = ?
		WHERE id = ?
	`,
		string(req.Status), nullString(modified), nullString(req.ResolvedBy),
		nullString(req.ResolveNote), nullTime(req.ResolvedAt),
		nullTime(req.ResumedRunAt), req.ID,
	)
}

func (s *SQLiteApprovalStore) ListPending(ctx context.Context, agentID string) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM approval_queue
		WHERE status = ? AND (? = '' OR agent_id = ?)
		ORDER BY created_at DESC
	`, string(models.ApprovalPending), agentID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reqs []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

func (s *SQLiteApprovalStore) LatestPendingForContact(ctx context.Context, masterContact string) (*models.ApprovalRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+approvalColumns+` FROM approval_queue
		WHERE status = ? AND master_contact = ?
		ORDER BY created_at DESC LIMIT 1
	`, string(models.ApprovalPending), masterContact)
	req, err := scanApproval(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return req, err
}

func (s *SQLiteApprovalStore) ExpirePending(ctx context.Context, now time.Time) ([]*models.ApprovalRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM approval_queue
		WHERE status = ? AND expires_at < ?
		ORDER BY created_at ASC
	`, string(models.ApprovalPending), now)
	if err != nil {
		return nil, err
	}
	var expired []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		expired = append(expired, req)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, req := range expired {
		req.Status = models.ApprovalExpired
		t := now
		req.ResolvedAt = &t
		if _, err := s.db.ExecContext(ctx, `
			UPDATE approval_queue SET status = ?, resolved_at = ?
			WHERE id = ? AND status = ?
		`, string(models.ApprovalExpired), now, req.ID, string(models.ApprovalPending)); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

// SQLiteAgentMessageStore implements AgentMessageStore on SQLite.
type SQLiteAgentMessageStore struct {
	db *sql.DB
}

const agentMessageColumns = `id, thread_id, from_agent_id, to_agent_id, type,
	subject, content, status, priority, task_id, correlation_id, reply_to,
	metadata, deadline_at, expires_at, created_at, read_at`

func (s *SQLiteAgentMessageStore) SaveMessage(ctx context.Context, msg *models.AgentMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("message is required")
	}
	metadata, err := marshalJSON(msg.Metadata)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM agent_messages WHERE id = ?`, msg.ID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		_, err = tx.ExecContext(ctx, `
			UPDATE agent_messages SET status = ?, metadata = ?, read_at = ?
			WHERE id = ?
		`, string(msg.Status), nullString(metadata), nullTime(msg.ReadAt), msg.ID)
		if err != nil {
			return err
		}
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_messages (`+agentMessageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		msg.ID, msg.ThreadID, msg.FromAgentID, msg.ToAgentID, string(msg.Type),
		nullString(msg.Subject), msg.Content, string(msg.Status),
		nullString(string(msg.Priority)), nullString(msg.TaskID),
		nullString(msg.CorrelationID), nullString(msg.ReplyTo),
		nullString(metadata), nullTime(msg.DeadlineAt), nullTime(msg.ExpiresAt),
		msg.CreatedAt, nullTime(msg.ReadAt),
	)
	if err != nil {
		return err
	}
	// Thread counters move under the same write as the insert.
	_, err = tx.ExecContext(ctx, `
		UPDATE threads SET message_count = message_count + 1, last_message_at = ?
		WHERE id = ?
	`, msg.CreatedAt, msg.ThreadID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func scanAgentMessage(row interface{ Scan(...any) error }) (*models.AgentMessage, error) {
	var (
		msg                           models.AgentMessage
		subject, priority, taskID     sql.NullString
		correlationID, replyTo        sql.NullString
		metadata                      sql.NullString
		msgType, status               string
		deadlineAt, expiresAt, readAt sql.NullTime
	)
	err := row.Scan(
		&msg.ID, &msg.ThreadID, &msg.FromAgentID, &msg.ToAgentID, &msgType,
		&subject, &msg.Content, &status, &priority, &taskID, &correlationID,
		&replyTo, &metadata, &deadlineAt, &expiresAt, &msg.CreatedAt, &readAt,
	)
	if err != nil {
		return nil, err
	}
	msg.Type = models.AgentMessageType(msgType)
	msg.Subject = subject.String
	msg.Status = models.AgentMessageStatus(status)
	msg.Priority = models.ApprovalPriority(priority.String)
	msg.TaskID = taskID.String
	msg.CorrelationID = correlationID.String
	msg.ReplyTo = replyTo.String
	msg.DeadlineAt = timePtr(deadlineAt)
	msg.ExpiresAt = timePtr(expiresAt)
	msg.ReadAt = timePtr(readAt)
	if err := unmarshalJSON(metadata.String, &msg.Metadata); err != nil {
		return nil, fmt.Errorf("decode message metadata: %w", err)
	}
	return &msg, nil
}

func (s *SQLiteAgentMessageStore) GetMessage(ctx context.Context, id string) (*models.AgentMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentMessageColumns+` FROM agent_messages WHERE id = ?`, id)
	msg, err := scanAgentMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return msg, err
}

func (s *SQLiteAgentMessageStore) UpdateStatus(ctx context.Context, id string, status models.AgentMessageStatus) error {
	if status == models.AgentMsgRead {
		return execAffectingOne(ctx, s.db, `
			UPDATE agent_messages SET status = ?, read_at = COALESCE(read_at, ?)
			WHERE id = ?
		`, string(status), time.Now().UTC(), id)
	}
	return execAffectingOne(ctx, s.db,
		`UPDATE agent_messages SET status = ? WHERE id = ?`, string(status), id)
}

func (s *SQLiteAgentMessageStore) ListInbox(ctx context.Context, agentID string, statuses []models.AgentMessageStatus, limit int) ([]*models.AgentMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + agentMessageColumns + ` FROM agent_messages WHERE to_agent_id = ?`
	args := []any{agentID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + repeatPlaceholder(len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgentMessages(rows)
}

func (s *SQLiteAgentMessageStore) ListSent(ctx context.Context, agentID string, limit int) ([]*models.AgentMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentMessageColumns+` FROM agent_messages
		WHERE from_agent_id = ? ORDER BY created_at DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgentMessages(rows)
}

func (s *SQLiteAgentMessageStore) CountUnread(ctx context.Context, agentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM agent_messages
		WHERE to_agent_id = ? AND status IN (?, ?)
	`, agentID, string(models.AgentMsgPending), string(models.AgentMsgDelivered)).Scan(&n)
	return n, err
}

func collectAgentMessages(rows *sql.Rows) ([]*models.AgentMessage, error) {
	var msgs []*models.AgentMessage
	for rows.Next() {
		msg, err := scanAgentMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

const threadColumns = `id, key, thread_type, participants, subject, task_id,
	context, is_active, message_count, last_message_at, created_at`

func (s *SQLiteAgentMessageStore) FindOrCreateThread(ctx context.Context, threadType models.ThreadType, taskID string, participants ...string) (*models.Thread, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("participants are required")
	}
	key := threadStoreKey(threadType, taskID, participants)

	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE key = ?`, key)
	thread, err := scanThread(row)
	if err == nil {
		return thread, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	sorted := slices.Clone(participants)
	sort.Strings(sorted)
	partJSON, err := marshalJSON(sorted)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	thread = &models.Thread{
		ID:            uuid.NewString(),
		Key:           key,
		ThreadType:    threadType,
		Participants:  sorted,
		TaskID:        taskID,
		IsActive:      true,
		LastMessageAt: now,
		CreatedAt:     now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (`+threadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		thread.ID, thread.Key, string(thread.ThreadType), partJSON,
		nullString(thread.Subject), nullString(thread.TaskID), "",
		thread.IsActive, thread.MessageCount, thread.LastMessageAt,
		thread.CreatedAt,
	)
	if err != nil {
		// Lost a race with a concurrent creator; read back theirs.
		row := s.db.QueryRowContext(ctx,
			`SELECT `+threadColumns+` FROM threads WHERE key = ?`, key)
		if existing, scanErr := scanThread(row); scanErr == nil {
			return existing, nil
		}
		return nil, err
	}
	return thread, nil
}

func scanThread(row interface{ Scan(...any) error }) (*models.Thread, error) {
	var (
		thread                models.Thread
		participants, subject sql.NullString
		taskID, contextJSON   sql.NullString
		threadType            string
	)
	err := row.Scan(
		&thread.ID, &thread.Key, &threadType, &participants, &subject,
		&taskID, &contextJSON, &thread.IsActive, &thread.MessageCount,
		&thread.LastMessageAt, &thread.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	thread.ThreadType = models.ThreadType(threadType)
	thread.Subject = subject.String
	thread.TaskID = taskID.String
	if err := unmarshalJSON(participants.String, &thread.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if err := unmarshalJSON(contextJSON.String, &thread.Context); err != nil {
		return nil, fmt.Errorf("decode thread context: %w", err)
	}
	return &thread, nil
}

func (s *SQLiteAgentMessageStore) GetThread(ctx context.Context, id string) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+threadColumns+` FROM threads WHERE id = ?`, id)
	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return thread, err
}

func (s *SQLiteAgentMessageStore) ListThreads(ctx context.Context, agentID string, limit int) ([]*models.Thread, error) {
	if limit <= 0 {
		limit = 50
	}
	// Participants are a JSON array; substring match on the quoted ID.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+threadColumns+` FROM threads
		WHERE participants LIKE '%"' || ? || '"%'
		ORDER BY last_message_at DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var threads []*models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}
	return threads, rows.Err()
}

func (s *SQLiteAgentMessageStore) ListThreadMessages(ctx context.Context, threadID string, limit int) ([]*models.AgentMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+agentMessageColumns+` FROM agent_messages
		WHERE thread_id = ? ORDER BY created_at ASC LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAgentMessages(rows)
}

// SQLiteConversationStore implements ConversationStore on SQLite.
type SQLiteConversationStore struct {
	db *sql.DB
}

const conversationColumns = `id, user_id, type, status, initiator_id,
	participants, topic, metadata, result, deadline, created_at, completed_at`

func (s *SQLiteConversationStore) Create(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	participants, err := marshalJSON(conv.Participants)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(conv.Metadata)
	if err != nil {
		return err
	}
	result, err := marshalJSON(conv.Result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (`+conversationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		conv.ID, conv.UserID, string(conv.Type), string(conv.Status),
		conv.InitiatorID, participants, nullString(conv.Topic),
		nullString(metadata), nullString(result), nullTime(conv.Deadline),
		conv.CreatedAt, nullTime(conv.CompletedAt),
	)
	return err
}

func scanConversation(row interface{ Scan(...any) error }) (*models.Conversation, error) {
	var (
		conv                  models.Conversation
		participants, topic   sql.NullString
		metadata, result      sql.NullString
		convType, status      string
		deadline, completedAt sql.NullTime
	)
	err := row.Scan(
		&conv.ID, &conv.UserID, &convType, &status, &conv.InitiatorID,
		&participants, &topic, &metadata, &result, &deadline, &conv.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}
	conv.Type = models.ConversationType(convType)
	conv.Status = models.ConversationStatus(status)
	conv.Topic = topic.String
	conv.Deadline = timePtr(deadline)
	conv.CompletedAt = timePtr(completedAt)
	if err := unmarshalJSON(participants.String, &conv.Participants); err != nil {
		return nil, fmt.Errorf("decode participants: %w", err)
	}
	if err := unmarshalJSON(metadata.String, &conv.Metadata); err != nil {
		return nil, fmt.Errorf("decode conversation metadata: %w", err)
	}
	if err := unmarshalJSON(result.String, &conv.Result); err != nil {
		return nil, fmt.Errorf("decode conversation result: %w", err)
	}
	return &conv, nil
}

func (s *SQLiteConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return conv, err
}

func (s *SQLiteConversationStore) Update(ctx context.Context, conv *models.Conversation) error {
	if conv == nil || conv.ID == "" {
		return fmt.Errorf("conversation is required")
	}
	metadata, err := marshalJSON(conv.Metadata)
	if err != nil {
		return err
	}
	result, err := marshalJSON(conv.Result)
	if err != nil {
		return err
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE conversations SET status = ?, metadata = ?, result = ?,
			deadline = ?, completed_at = ?
		WHERE id = ?
	`,
		string(conv.Status), nullString(metadata), nullString(result),
		nullTime(conv.Deadline), nullTime(conv.CompletedAt), conv.ID,
	)
}

func (s *SQLiteConversationStore) AddMessage(ctx context.Context, msg *models.ConversationMessage) error {
	if msg == nil || msg.ID == "" {
		return fmt.Errorf("conversation message is required")
	}
	var vote any
	if msg.VoteOption != nil {
		vote = *msg.VoteOption
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, conversation_id, agent_id, type, content, vote_option, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.AgentID, string(msg.Type), msg.Content,
		vote, msg.CreatedAt)
	return err
}

func (s *SQLiteConversationStore) ListMessages(ctx context.Context, conversationID string) ([]*models.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, agent_id, type, content, vote_option, created_at
		FROM conversation_messages WHERE conversation_id = ?
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var msgs []*models.ConversationMessage
	for rows.Next() {
		var msg models.ConversationMessage
		var msgType string
		var content sql.NullString
		var vote sql.NullInt64
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.AgentID,
			&msgType, &content, &vote, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Type = models.ConversationMessageType(msgType)
		msg.Content = content.String
		if vote.Valid {
			v := int(vote.Int64)
			msg.VoteOption = &v
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteConversationStore) ListActiveByParticipant(ctx context.Context, agentID string) ([]*models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE status = ? AND (initiator_id = ? OR participants LIKE '%"' || ? || '"%')
		ORDER BY created_at ASC
	`, string(models.ConversationActive), agentID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConversations(rows)
}

func (s *SQLiteConversationStore) ListByParticipant(ctx context.Context, agentID string, limit int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE initiator_id = ? OR participants LIKE '%"' || ? || '"%'
		ORDER BY created_at DESC LIMIT ?
	`, agentID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectConversations(rows)
}

func collectConversations(rows *sql.Rows) ([]*models.Conversation, error) {
	var convs []*models.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// SQLiteNotificationStore implements NotificationStore on SQLite.
type SQLiteNotificationStore struct {
	db *sql.DB
}

const notificationColumns = `id, agent_id, user_id, type, title, body, channel,
	address, context, reference_type, reference_id, status, attempts, error,
	created_at, sent_at, delivered_at, read_at`

func (s *SQLiteNotificationStore) Create(ctx context.Context, n *models.MasterNotification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification is required")
	}
	contextJSON, err := marshalJSON(n.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO master_notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		n.ID, n.AgentID, n.UserID, string(n.Type), nullString(n.Title),
		nullString(n.Body), nullString(n.Channel), nullString(n.Address),
		nullString(contextJSON), nullString(n.ReferenceType),
		nullString(n.ReferenceID), string(n.Status), n.Attempts,
		nullString(n.Error), n.CreatedAt, nullTime(n.SentAt),
		nullTime(n.DeliveredAt), nullTime(n.ReadAt),
	)
	return err
}

func scanNotification(row interface{ Scan(...any) error }) (*models.MasterNotification, error) {
	var (
		n                           models.MasterNotification
		title, body                 sql.NullString
		channel, address            sql.NullString
		contextJSON, refType, refID sql.NullString
		errText                     sql.NullString
		notifType, status           string
		sentAt, deliveredAt, readAt sql.NullTime
	)
	err := row.Scan(
		&n.ID, &n.AgentID, &n.UserID, &notifType, &title, &body, &channel,
		&address, &contextJSON, &refType, &refID, &status, &n.Attempts,
		&errText, &n.CreatedAt, &sentAt, &deliveredAt, &readAt,
	)
	if err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(notifType)
	n.Title = title.String
	n.Body = body.String
	n.Channel = channel.String
	n.Address = address.String
	n.ReferenceType = refType.String
	n.ReferenceID = refID.String
	n.Status = models.DeliveryStatus(status)
	n.Error = errText.String
	n.SentAt = timePtr(sentAt)
	n.DeliveredAt = timePtr(deliveredAt)
	n.ReadAt = timePtr(readAt)
	if err := unmarshalJSON(contextJSON.String, &n.Context); err != nil {
		return nil, fmt.Errorf("decode notification context: %w", err)
	}
	return &n, nil
}

func (s *SQLiteNotificationStore) Update(ctx context.Context, n *models.MasterNotification) error {
	if n == nil || n.ID == "" {
		return fmt.Errorf("notification is required")
	}
	return execAffectingOne(ctx, s.db, `
		UPDATE master_notifications SET status = ?, attempts = ?, error = ?,
			sent_at = ?, delivered_at = ?, read_at = ?
		WHERE id = ?
	`,
		string(n.Status), n.Attempts, nullString(n.Error), nullTime(n.SentAt),
		nullTime(n.DeliveredAt), nullTime(n.ReadAt), n.ID,
	)
}

func (s *SQLiteNotificationStore) Get(ctx context.Context, id string) (*models.MasterNotification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM master_notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

func (s *SQLiteNotificationStore) ListPending(ctx context.Context, limit int) ([]*models.MasterNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM master_notifications
		WHERE status = ? ORDER BY created_at ASC LIMIT ?
	`, string(models.DeliveryPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func (s *SQLiteNotificationStore) ListByAgent(ctx context.Context, agentID string, limit int) ([]*models.MasterNotification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+notificationColumns+` FROM master_notifications
		WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func collectNotifications(rows *sql.Rows) ([]*models.MasterNotification, error) {
	var out []*models.MasterNotification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
