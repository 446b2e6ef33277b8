package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"aura-chat/internal/domain"
)

type fakeDynamo struct {
	getOut      *dynamodb.GetItemOutput
	getErr      error
	queryByPK   map[string]*dynamodb.QueryOutput
	queryErr    error
	txErr       error
	lastGetIn   *dynamodb.GetItemInput
	lastQueryIn *dynamodb.QueryInput
	txInputs    []*dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetIn = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	if out, ok := f.queryByPK[pk]; ok {
		return out, nil
	}
	return &dynamodb.QueryOutput{}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.txInputs = append(f.txInputs, in)
	if f.txErr != nil {
		return nil, f.txErr
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "chat-table")
	require.NoError(t, err)
	return c
}

func testMessage() domain.Message {
	return domain.Message{
		ID:              "m-1",
		ConversationKey: "u-alice::u-bob",
		SenderID:        "u-alice",
		Text:            "hi",
		CreatedAt:       1700000000123,
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, "chat-table")
	require.Error(t, err)
	_, err = New(&fakeDynamo{}, "  ")
	require.Error(t, err)
}

func TestAppendMessage_WritesTransaction(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)

	require.NoError(t, c.AppendMessage(context.Background(), testMessage()))
	require.Len(t, db.txInputs, 1)

	items := db.txInputs[0].TransactItems
	require.Len(t, items, 4)

	// Message put is conditional on the id being unseen.
	put := items[0].Put
	require.NotNil(t, put)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *put.ConditionExpression)
	require.Equal(t, "CONV#u-alice::u-bob", put.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "MSG#1700000000123#m-1", put.Item["SK"].(*types.AttributeValueMemberS).Value)

	// Reference item for delete-by-id.
	require.Equal(t, "MSG#m-1", items[1].Put.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "REF", items[1].Put.Item["SK"].(*types.AttributeValueMemberS).Value)

	// Membership items for both sides.
	require.Equal(t, "PART#u-alice", items[2].Put.Item["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "PART#u-bob", items[3].Put.Item["PK"].(*types.AttributeValueMemberS).Value)
}

func TestAppendMessage_SessionControlAttributes(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	m := testMessage()
	m.SessionControl = &domain.SessionControl{
		MediaSource:      "https://youtu.be/dQw4w9WgXcQ",
		SourceKind:       domain.SourceYouTube,
		SessionStartedAt: 1700000000123,
	}

	require.NoError(t, c.AppendMessage(context.Background(), m))
	item := db.txInputs[0].TransactItems[0].Put.Item
	require.Equal(t, "https://youtu.be/dQw4w9WgXcQ", item["scMediaSource"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "youtube", item["scSourceKind"].(*types.AttributeValueMemberS).Value)
}

func TestAppendMessage_DuplicateIDAbsorbed(t *testing.T) {
	db := &fakeDynamo{txErr: &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
			{Code: aws.String("None")},
			{Code: aws.String("None")},
			{Code: aws.String("None")},
		},
	}}
	c := mustNewClient(t, db)

	require.NoError(t, c.AppendMessage(context.Background(), testMessage()))
}

func TestAppendMessage_OtherTransactionFailure(t *testing.T) {
	db := &fakeDynamo{txErr: errors.New("throughput exceeded")}
	c := mustNewClient(t, db)

	err := c.AppendMessage(context.Background(), testMessage())
	require.ErrorContains(t, err, "throughput exceeded")
}

func TestAppendMessage_InvalidMessage(t *testing.T) {
	db := &fakeDynamo{}
	c := mustNewClient(t, db)
	m := testMessage()
	m.SenderID = ""

	require.Error(t, c.AppendMessage(context.Background(), m))
	require.Empty(t, db.txInputs)
}

func TestDeleteMessage_ResolvesRefThenDeletesBoth(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":              &types.AttributeValueMemberS{Value: "MSG#m-1"},
		"SK":              &types.AttributeValueMemberS{Value: "REF"},
		"conversationKey": &types.AttributeValueMemberS{Value: "u-alice::u-bob"},
		"createdAt":       &types.AttributeValueMemberN{Value: "1700000000123"},
	}}}
	c := mustNewClient(t, db)

	require.NoError(t, c.DeleteMessage(context.Background(), "m-1"))
	require.Equal(t, "MSG#m-1", db.lastGetIn.Key["PK"].(*types.AttributeValueMemberS).Value)

	require.Len(t, db.txInputs, 1)
	dels := db.txInputs[0].TransactItems
	require.Len(t, dels, 2)
	require.Equal(t, "CONV#u-alice::u-bob", dels[0].Delete.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "MSG#1700000000123#m-1", dels[0].Delete.Key["SK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "MSG#m-1", dels[1].Delete.Key["PK"].(*types.AttributeValueMemberS).Value)
}

func TestDeleteMessage_AbsentIDIsNoop(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	require.NoError(t, c.DeleteMessage(context.Background(), "never-existed"))
	require.Empty(t, db.txInputs)
}

func TestLoadConversation(t *testing.T) {
	m1 := testMessage()
	m2 := testMessage()
	m2.ID = "m-2"
	m2.CreatedAt = m1.CreatedAt + 1
	m2.SessionControl = &domain.SessionControl{
		MediaSource:      "movie.mp4",
		SourceKind:       domain.SourceFile,
		SessionStartedAt: m2.CreatedAt,
	}
	db := &fakeDynamo{queryByPK: map[string]*dynamodb.QueryOutput{
		"CONV#u-alice::u-bob": {Items: []map[string]types.AttributeValue{
			messageItem(m1), messageItem(m2),
		}},
	}}
	c := mustNewClient(t, db)

	got, err := c.LoadConversation(context.Background(), "u-alice::u-bob")
	require.NoError(t, err)
	require.Equal(t, []domain.Message{m1, m2}, got)

	// Chronological SK order is requested from the table.
	require.True(t, *db.lastQueryIn.ScanIndexForward)
}

func TestLoadForParticipant_FollowsMemberships(t *testing.T) {
	m := testMessage()
	db := &fakeDynamo{queryByPK: map[string]*dynamodb.QueryOutput{
		"PART#u-alice": {Items: []map[string]types.AttributeValue{{
			"PK":              &types.AttributeValueMemberS{Value: "PART#u-alice"},
			"SK":              &types.AttributeValueMemberS{Value: "CONV#u-alice::u-bob"},
			"conversationKey": &types.AttributeValueMemberS{Value: "u-alice::u-bob"},
		}}},
		"CONV#u-alice::u-bob": {Items: []map[string]types.AttributeValue{messageItem(m)}},
	}}
	c := mustNewClient(t, db)

	got, err := c.LoadForParticipant(context.Background(), "u-alice")
	require.NoError(t, err)
	require.Equal(t, []domain.Message{m}, got)
}

func TestGetParticipant(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: "PROFILE"},
		"SK":          &types.AttributeValueMemberS{Value: "PART#u-alice"},
		"id":          &types.AttributeValueMemberS{Value: "u-alice"},
		"handle":      &types.AttributeValueMemberS{Value: "alice"},
		"displayName": &types.AttributeValueMemberS{Value: "Alice"},
		"photoUrl":    &types.AttributeValueMemberS{Value: "https://cdn.example/alice.png"},
	}}}
	c := mustNewClient(t, db)

	p, found, err := c.GetParticipant(context.Background(), "u-alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "alice", p.Handle)
	require.Equal(t, "Alice", p.DisplayName)
}

func TestGetParticipant_NotFound(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{}}
	c := mustNewClient(t, db)

	_, found, err := c.GetParticipant(context.Background(), "u-ghost")
	require.NoError(t, err)
	require.False(t, found)
}

func TestListParticipants(t *testing.T) {
	db := &fakeDynamo{queryByPK: map[string]*dynamodb.QueryOutput{
		"PROFILE": {Items: []map[string]types.AttributeValue{
			{
				"id":     &types.AttributeValueMemberS{Value: "u-alice"},
				"handle": &types.AttributeValueMemberS{Value: "alice"},
			},
			{
				"id":     &types.AttributeValueMemberS{Value: "u-bob"},
				"handle": &types.AttributeValueMemberS{Value: "bob"},
			},
		}},
	}}
	c := mustNewClient(t, db)

	got, err := c.ListParticipants(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "u-alice", got[0].ID)
	require.Equal(t, "u-bob", got[1].ID)
}

func TestMsgSK_ZeroPaddedChronological(t *testing.T) {
	early := msgSK(999, "m-a")
	late := msgSK(1700000000123, "m-b")
	require.Less(t, early, late)
	require.Equal(t, "MSG#0000000000999#m-a", early)
	require.Equal(t, "MSG#"+strconv.FormatInt(1700000000123, 10)+"#m-b", late)
}
