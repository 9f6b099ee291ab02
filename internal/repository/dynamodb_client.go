package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"telegram-agent/internal/domain"
)

const (
	skProfile      = "PROFILE#"
	skPrefixTurn   = "TURN#"
	ttlDuration    = 30 * 24 * time.Hour // 30-day turn retention
	turnTimeLayout = time.RFC3339Nano
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Client wraps a single DynamoDB table holding user quota records and
// conversation turns. One partition per sender: the PROFILE# item carries
// the usage counter, TURN# items carry the session-scoped history.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// userPK returns the DynamoDB partition key for a sender.
func userPK(senderID string) string {
	return "USER#" + senderID
}

// turnSK returns the sort key for a turn. Keys sort lexicographically by
// session then creation time, which is what RecentTurns queries on.
func turnSK(sessionID string, ts time.Time) string {
	return skPrefixTurn + sessionID + "#" + ts.UTC().Format(turnTimeLayout)
}

// ttlValue returns a Unix timestamp 30 days in the future.
func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// GetUser fetches the profile item for a sender. The second return value
// reports whether the record exists; absence is not an error.
func (c *Client) GetUser(ctx context.Context, senderID string) (domain.User, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(senderID)},
			"SK": &types.AttributeValueMemberS{Value: skProfile},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: GetUser get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.User{}, false, nil
	}

	usage, err := intAttr(out.Item, "usageCount")
	if err != nil {
		return domain.User{}, false, fmt.Errorf("repository: GetUser decode usageCount: %w", err)
	}
	handle, _ := strAttr(out.Item, "handle") // allow empty
	return domain.User{
		SenderID:   senderID,
		Handle:     handle,
		UsageCount: usage,
	}, true, nil
}

// CreateUser writes a fresh profile item. The conditional put means a racing
// first message from the same sender surfaces as an error instead of
// silently resetting the counter.
func (c *Client) CreateUser(ctx context.Context, user domain.User) error {
	if user.SenderID == "" {
		return errors.New("repository: CreateUser: sender id is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                profileItem(user),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

// UpdateUsage replaces the profile item with the new counter value. This is
// the read-then-write half of the quota check: two concurrent requests for
// one sender can both read the same counter and each write counter+1, so the
// quota may be exceeded by the number of in-flight requests. Accepted.
func (c *Client) UpdateUsage(ctx context.Context, user domain.User) error {
	if user.SenderID == "" {
		return errors.New("repository: UpdateUsage: sender id is required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      profileItem(user),
	})
	if err != nil {
		return fmt.Errorf("repository: UpdateUsage: %w", err)
	}
	return nil
}

// AppendTurn persists one conversation turn. The store assigns the creation
// timestamp and returns the record as written.
func (c *Client) AppendTurn(ctx context.Context, turn domain.Turn) (domain.Turn, error) {
	if turn.SenderID == "" || turn.SessionID == "" {
		return domain.Turn{}, errors.New("repository: AppendTurn: sender id and session id are required")
	}
	if turn.Role != domain.RoleUser && turn.Role != domain.RoleAssistant {
		return domain.Turn{}, fmt.Errorf("repository: AppendTurn: unknown role %q", turn.Role)
	}

	turn.CreatedAt = c.now().UTC()
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                turnItem(turn, c.ttlValue()),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return domain.Turn{}, fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return turn, nil
}

// RecentTurns queries up to limit turns for a (sender, session) pair in the
// store's native newest-first order. Callers needing chronological order
// reverse the slice themselves.
func (c *Client) RecentTurns(ctx context.Context, senderID, sessionID string, limit int) ([]domain.Turn, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(senderID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn + sessionID + "#"},
		},
		// Read newest first so LIMIT favors the most recent context.
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns query: %w", err)
	}

	turns := make([]domain.Turn, 0, len(out.Items))
	for _, item := range out.Items {
		turn, err := itemToTurn(item)
		if err != nil {
			return nil, fmt.Errorf("repository: RecentTurns unmarshal: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func profileItem(user domain.User) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":         &types.AttributeValueMemberS{Value: userPK(user.SenderID)},
		"SK":         &types.AttributeValueMemberS{Value: skProfile},
		"senderId":   &types.AttributeValueMemberS{Value: user.SenderID},
		"handle":     &types.AttributeValueMemberS{Value: user.Handle},
		"usageCount": &types.AttributeValueMemberN{Value: strconv.Itoa(user.UsageCount)},
	}
}

func turnItem(turn domain.Turn, ttl int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(turn.SenderID)},
		"SK":        &types.AttributeValueMemberS{Value: turnSK(turn.SessionID, turn.CreatedAt)},
		"senderId":  &types.AttributeValueMemberS{Value: turn.SenderID},
		"sessionId": &types.AttributeValueMemberS{Value: turn.SessionID},
		"role":      &types.AttributeValueMemberS{Value: turn.Role},
		"text":      &types.AttributeValueMemberS{Value: turn.Text},
		"createdAt": &types.AttributeValueMemberS{Value: turn.CreatedAt.UTC().Format(turnTimeLayout)},
		"ttl":       &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)},
	}
}

// itemToTurn converts a DynamoDB attribute map to a Turn.
func itemToTurn(item map[string]types.AttributeValue) (domain.Turn, error) {
	senderID, err := strAttr(item, "senderId")
	if err != nil {
		return domain.Turn{}, err
	}
	sessionID, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Turn{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Turn{}, err
	}
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Turn{}, err
	}

	turn := domain.Turn{
		SenderID:  senderID,
		SessionID: sessionID,
		Role:      role,
		Text:      text,
	}
	if raw, err := strAttr(item, "createdAt"); err == nil {
		if ts, parseErr := time.Parse(turnTimeLayout, raw); parseErr == nil {
			turn.CreatedAt = ts
		}
	}
	return turn, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
