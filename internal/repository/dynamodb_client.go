package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"aura-chat/internal/domain"
)

const (
	pkPrefixConv = "CONV#"
	pkPrefixPart = "PART#"
	pkPrefixMsg  = "MSG#"
	pkProfile    = "PROFILE"
	skPrefixMsg  = "MSG#"
	skPrefixConv = "CONV#"
	skPrefixPart = "PART#"
	skRef        = "REF"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// Client wraps a single DynamoDB table holding three item families:
//
//	CONV#<key> / MSG#<ms>#<id>   one message of a conversation
//	PART#<id>  / CONV#<key>      conversation membership, for bulk load
//	MSG#<id>   / REF             id -> (key, ms) reference, for delete by id
//	PROFILE    / PART#<id>       one directory record
//
// Message and membership items are written in one transaction so a
// participant's conversation list can never lag behind its messages.
type Client struct {
	api       dynamodbAPI
	tableName string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

func convPK(key domain.ConversationKey) string {
	return pkPrefixConv + string(key)
}

// msgSK zero-pads the millisecond timestamp so lexicographic SK order is
// chronological, with the id as tie-break.
func msgSK(createdAt int64, id string) string {
	return fmt.Sprintf("%s%013d#%s", skPrefixMsg, createdAt, id)
}

// AppendMessage persists a message together with the membership items of
// both participants and the id reference, transactionally. A replay of an
// already-persisted id cancels on the condition check and is absorbed as a
// success: duplicate delivery is not an error.
func (c *Client) AppendMessage(ctx context.Context, m domain.Message) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	a, b, err := m.ConversationKey.Participants()
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                messageItem(m),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      refItem(m),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      membershipItem(a, m.ConversationKey),
				},
			},
			{
				Put: &types.Put{
					TableName: aws.String(c.tableName),
					Item:      membershipItem(b, m.ConversationKey),
				},
			},
		},
	})
	if err != nil {
		if isConditionalCancel(err) {
			return nil
		}
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// DeleteMessage removes a message by id via its reference item. Deleting an
// absent id is a no-op.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkPrefixMsg + id},
			"SK": &types.AttributeValueMemberS{Value: skRef},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteMessage lookup: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil
	}
	key, err := strAttr(out.Item, "conversationKey")
	if err != nil {
		return fmt.Errorf("repository: DeleteMessage decode ref: %w", err)
	}
	createdAt, err := intAttr(out.Item, "createdAt")
	if err != nil {
		return fmt.Errorf("repository: DeleteMessage decode ref: %w", err)
	}

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: convPK(domain.ConversationKey(key))},
						"SK": &types.AttributeValueMemberS{Value: msgSK(createdAt, id)},
					},
				},
			},
			{
				Delete: &types.Delete{
					TableName: aws.String(c.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: pkPrefixMsg + id},
						"SK": &types.AttributeValueMemberS{Value: skRef},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: DeleteMessage: %w", err)
	}
	return nil
}

// LoadConversation queries all MSG# items of one conversation in
// chronological order.
func (c *Client) LoadConversation(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(key)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ScanIndexForward: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LoadConversation query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		m, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: LoadConversation unmarshal: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// LoadForParticipant resolves the participant's membership items and loads
// every conversation they name.
func (c *Client) LoadForParticipant(ctx context.Context, participant string) ([]domain.Message, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pkPrefixPart + participant},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixConv},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: LoadForParticipant query: %w", err)
	}

	var msgs []domain.Message
	for _, item := range out.Items {
		key, err := strAttr(item, "conversationKey")
		if err != nil {
			return nil, fmt.Errorf("repository: LoadForParticipant decode membership: %w", err)
		}
		conv, err := c.LoadConversation(ctx, domain.ConversationKey(key))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, conv...)
	}
	return msgs, nil
}

// GetParticipant fetches one directory record.
func (c *Client) GetParticipant(ctx context.Context, id string) (domain.Participant, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkProfile},
			"SK": &types.AttributeValueMemberS{Value: skPrefixPart + id},
		},
	})
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("repository: GetParticipant: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Participant{}, false, nil
	}
	p, err := itemToParticipant(out.Item)
	if err != nil {
		return domain.Participant{}, false, fmt.Errorf("repository: GetParticipant unmarshal: %w", err)
	}
	return p, true, nil
}

// ListParticipants queries the whole directory partition.
func (c *Client) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	out, err := c.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkProfile},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("repository: ListParticipants query: %w", err)
	}
	parts := make([]domain.Participant, 0, len(out.Items))
	for _, item := range out.Items {
		p, err := itemToParticipant(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListParticipants unmarshal: %w", err)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func messageItem(m domain.Message) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: convPK(m.ConversationKey)},
		"SK":              &types.AttributeValueMemberS{Value: msgSK(m.CreatedAt, m.ID)},
		"id":              &types.AttributeValueMemberS{Value: m.ID},
		"conversationKey": &types.AttributeValueMemberS{Value: string(m.ConversationKey)},
		"senderId":        &types.AttributeValueMemberS{Value: m.SenderID},
		"text":            &types.AttributeValueMemberS{Value: m.Text},
		"createdAt":       &types.AttributeValueMemberN{Value: strconv.FormatInt(m.CreatedAt, 10)},
	}
	if sc := m.SessionControl; sc != nil {
		item["scMediaSource"] = &types.AttributeValueMemberS{Value: sc.MediaSource}
		item["scSourceKind"] = &types.AttributeValueMemberS{Value: string(sc.SourceKind)}
		item["scStartedAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(sc.SessionStartedAt, 10)}
	}
	return item
}

func refItem(m domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: pkPrefixMsg + m.ID},
		"SK":              &types.AttributeValueMemberS{Value: skRef},
		"conversationKey": &types.AttributeValueMemberS{Value: string(m.ConversationKey)},
		"createdAt":       &types.AttributeValueMemberN{Value: strconv.FormatInt(m.CreatedAt, 10)},
	}
}

func membershipItem(participant string, key domain.ConversationKey) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: pkPrefixPart + participant},
		"SK":              &types.AttributeValueMemberS{Value: skPrefixConv + string(key)},
		"conversationKey": &types.AttributeValueMemberS{Value: string(key)},
	}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	key, err := strAttr(item, "conversationKey")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "senderId")
	if err != nil {
		return domain.Message{}, err
	}
	text, _ := strAttr(item, "text") // may be empty for pure control messages
	createdAt, err := intAttr(item, "createdAt")
	if err != nil {
		return domain.Message{}, err
	}

	m := domain.Message{
		ID:              id,
		ConversationKey: domain.ConversationKey(key),
		SenderID:        sender,
		Text:            text,
		CreatedAt:       createdAt,
	}
	if _, has := item["scMediaSource"]; has {
		source, err := strAttr(item, "scMediaSource")
		if err != nil {
			return domain.Message{}, err
		}
		kind, err := strAttr(item, "scSourceKind")
		if err != nil {
			return domain.Message{}, err
		}
		startedAt, err := intAttr(item, "scStartedAt")
		if err != nil {
			return domain.Message{}, err
		}
		m.SessionControl = &domain.SessionControl{
			MediaSource:      source,
			SourceKind:       domain.SourceKind(kind),
			SessionStartedAt: startedAt,
		}
	}
	return m, nil
}

func itemToParticipant(item map[string]types.AttributeValue) (domain.Participant, error) {
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Participant{}, err
	}
	handle, err := strAttr(item, "handle")
	if err != nil {
		return domain.Participant{}, err
	}
	displayName, _ := strAttr(item, "displayName")
	photoURL, _ := strAttr(item, "photoUrl")
	return domain.Participant{
		ID:          id,
		Handle:      handle,
		DisplayName: displayName,
		PhotoURL:    photoURL,
	}, nil
}

// isConditionalCancel reports whether a transaction was cancelled purely by
// condition checks, i.e. the message id was already persisted.
func isConditionalCancel(err error) bool {
	var cancel *types.TransactionCanceledException
	if !errors.As(err, &cancel) {
		return false
	}
	for _, reason := range cancel.CancellationReasons {
		if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
			return true
		}
	}
	return false
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

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
