package cwlogs

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/logtower/internal/runtime/cwlogs/cwlogstest"
)

func TestErrorClassification(t *testing.T) {
	notFound := &types.ResourceNotFoundException{Message: aws.String("gone")}
	exists := &types.ResourceAlreadyExistsException{Message: aws.String("exists")}
	invalid := &types.InvalidSequenceTokenException{Message: aws.String("bad token")}
	accepted := &types.DataAlreadyAcceptedException{Message: aws.String("dup")}
	generic := errors.New("connection reset")

	assert.True(t, IsNotFound(notFound))
	assert.True(t, IsNotFound(fmt.Errorf("wrapped: %w", notFound)))
	assert.False(t, IsNotFound(generic))

	assert.True(t, IsAlreadyExists(exists))
	assert.False(t, IsAlreadyExists(notFound))

	assert.True(t, IsTokenConflict(invalid))
	assert.True(t, IsTokenConflict(accepted))
	assert.False(t, IsTokenConflict(generic))

	assert.True(t, IsDataAlreadyAccepted(accepted))
	assert.False(t, IsDataAlreadyAccepted(invalid))

	assert.Equal(t, "", ErrorCode(generic))
	assert.Equal(t, CodeResourceNotFound, ErrorCode(notFound))
}

func TestExpectedTokenFromTypedField(t *testing.T) {
	err := &types.InvalidSequenceTokenException{
		Message:               aws.String("The given sequenceToken is invalid."),
		ExpectedSequenceToken: aws.String("4961"),
	}
	token, ok := ExpectedToken(err)
	require.True(t, ok)
	assert.Equal(t, "4961", token)

	dup := &types.DataAlreadyAcceptedException{ExpectedSequenceToken: aws.String(NoToken)}
	token, ok = ExpectedToken(dup)
	require.True(t, ok)
	assert.Equal(t, NoToken, token)
}

func TestExpectedTokenFromMessage(t *testing.T) {
	err := &smithy.GenericAPIError{
		Code:    CodeInvalidSequenceToken,
		Message: "The given sequenceToken is invalid. The next expected sequenceToken is: 4962",
	}
	token, ok := ExpectedToken(err)
	require.True(t, ok)
	assert.Equal(t, "4962", token)

	_, ok = ExpectedToken(&smithy.GenericAPIError{Code: CodeInvalidSequenceToken})
	assert.False(t, ok)

	_, ok = ExpectedToken(errors.New("plain"))
	assert.False(t, ok)
}

func TestCreateGroupAndStreamAreIdempotent(t *testing.T) {
	ctx := context.Background()
	srv := cwlogstest.New()

	require.NoError(t, CreateGroup(ctx, srv, "app"))
	require.NoError(t, CreateGroup(ctx, srv, "app"))
	require.NoError(t, CreateStream(ctx, srv, "app", "web"))
	require.NoError(t, CreateStream(ctx, srv, "app", "web"))
	assert.True(t, srv.HasStream("app", "web"))

	err := CreateStream(ctx, srv, "missing", "web")
	assert.True(t, IsNotFound(err))
}

func TestGroupExists(t *testing.T) {
	ctx := context.Background()
	srv := cwlogstest.New()
	srv.AddGroup("app-long")

	ok, err := GroupExists(ctx, srv, "app")
	require.NoError(t, err)
	assert.False(t, ok)

	srv.AddGroup("app")
	ok, err = GroupExists(ctx, srv, "app")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGroupExistsPaginates(t *testing.T) {
	api := &pagingAPI{pages: [][]string{{"app-a"}, {"app"}}}
	ok, err := GroupExists(context.Background(), api, "app")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, api.calls)
}

func TestSetRetention(t *testing.T) {
	ctx := context.Background()
	srv := cwlogstest.New()
	srv.AddGroup("app")

	require.NoError(t, SetRetention(ctx, srv, "app", 30))
	assert.Equal(t, int32(30), srv.Retention("app"))
	assert.Error(t, SetRetention(ctx, srv, "missing", 30))
}

func TestRejectedCount(t *testing.T) {
	assert.Equal(t, 0, RejectedCount(nil, 10))
	assert.Equal(t, 3, RejectedCount(&types.RejectedLogEventsInfo{TooOldLogEventEndIndex: aws.Int32(3)}, 10))
	assert.Equal(t, 4, RejectedCount(&types.RejectedLogEventsInfo{
		ExpiredLogEventEndIndex:  aws.Int32(2),
		TooNewLogEventStartIndex: aws.Int32(8),
	}, 10))
	assert.Equal(t, 5, RejectedCount(&types.RejectedLogEventsInfo{TooNewLogEventStartIndex: aws.Int32(0)}, 5))
}

type pagingAPI struct {
	API
	pages [][]string
	calls int
}

func (p *pagingAPI) DescribeLogGroups(_ context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	page := p.pages[p.calls]
	p.calls++
	out := &cloudwatchlogs.DescribeLogGroupsOutput{}
	for _, name := range page {
		out.LogGroups = append(out.LogGroups, types.LogGroup{LogGroupName: aws.String(name)})
	}
	if p.calls < len(p.pages) {
		out.NextToken = aws.String(fmt.Sprint(p.calls))
	}
	return out, nil
}
