package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/logtower/internal/runtime/cwlogs"
	"github.com/drblury/logtower/internal/runtime/cwlogs/cwlogstest"
	"github.com/drblury/logtower/internal/runtime/diagnostics"
	errspkg "github.com/drblury/logtower/internal/runtime/errors"
	"github.com/drblury/logtower/internal/runtime/logging"
)

const testGroup = "group"

func newTestDelivery(api cwlogs.API, rec *diagnostics.Recorder) *deliveryClient {
	return &deliveryClient{
		api:           api,
		group:         testGroup,
		maxRetries:    5,
		createStreams: true,
		createGroup:   true,
		creating:      &atomic.Bool{},
		reporter:      rec,
		logger:        logging.NewNopServiceLogger(),
		tracer:        newTracer(),
	}
}

// creationObserver records the reentrancy flag while a stream is created.
type creationObserver struct {
	*cwlogstest.Server
	flag     *atomic.Bool
	observed []bool
}

func (o *creationObserver) CreateLogStream(ctx context.Context, in *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	o.observed = append(o.observed, o.flag.Load())
	return o.Server.CreateLogStream(ctx, in, optFns...)
}

func TestSubmitSortsByTimestamp(t *testing.T) {
	server := cwlogstest.New()
	server.AddStream(testGroup, "s")
	d := newTestDelivery(server, &diagnostics.Recorder{})

	events := []event{
		{timestamp: 3, message: "c"},
		{timestamp: 1, message: "a"},
		{timestamp: 2, message: "b1"},
		{timestamp: 2, message: "b2"},
	}
	d.submit(context.Background(), &stream{name: "s"}, events, "batch")

	stored := server.Events(testGroup, "s")
	require.Len(t, stored, 4)
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, []string{stored[0].Message, stored[1].Message, stored[2].Message, stored[3].Message})
}

func TestSubmitAdoptsNextToken(t *testing.T) {
	server := cwlogstest.New()
	server.EnforceTokens = true
	server.AddStream(testGroup, "s")
	d := newTestDelivery(server, &diagnostics.Recorder{})
	s := &stream{name: "s"}

	d.submit(context.Background(), s, []event{{timestamp: 1, message: "a"}}, "b1")
	require.NotNil(t, s.token)
	first := *s.token

	d.submit(context.Background(), s, []event{{timestamp: 2, message: "b"}}, "b2")

	calls := server.Calls()
	require.Len(t, calls, 2)
	assert.Nil(t, calls[0].Token)
	require.NotNil(t, calls[1].Token)
	assert.Equal(t, first, *calls[1].Token)
	assert.True(t, calls[1].Accepted)
}

func TestSubmitRecreatesMissingStream(t *testing.T) {
	server := cwlogstest.New()
	server.AddGroup(testGroup)
	rec := &diagnostics.Recorder{}
	d := newTestDelivery(nil, rec)
	observer := &creationObserver{Server: server, flag: d.creating}
	d.api = observer

	s := &stream{name: "s", token: aws.String("stale")}
	d.submit(context.Background(), s, []event{{timestamp: 1, message: "a"}}, "batch")

	calls := server.Calls()
	require.Len(t, calls, 2)
	assert.False(t, calls[0].Accepted)
	assert.True(t, calls[1].Accepted)
	assert.Nil(t, calls[1].Token, "resubmission after re-creation carries no token")
	assert.Equal(t, []string{"s"}, server.StreamCreates())
	assert.Equal(t, []bool{true}, observer.observed)
	assert.False(t, d.creating.Load())
	assert.Empty(t, rec.OfKind(diagnostics.KindDeliveryFailed))
}

func TestSubmitRecreatesMissingGroup(t *testing.T) {
	server := cwlogstest.New()
	d := newTestDelivery(server, &diagnostics.Recorder{})

	d.submit(context.Background(), &stream{name: "s"}, []event{{timestamp: 1, message: "a"}}, "batch")

	assert.True(t, server.HasStream(testGroup, "s"))
	assert.Len(t, server.AcceptedCalls(), 1)
}

func TestSubmitWithoutStreamCreationGivesUp(t *testing.T) {
	server := cwlogstest.New()
	server.AddGroup(testGroup)
	rec := &diagnostics.Recorder{}
	d := newTestDelivery(server, rec)
	d.createStreams = false
	d.maxRetries = 3

	d.submit(context.Background(), &stream{name: "s"}, []event{{timestamp: 1, message: "a"}}, "batch")

	assert.Len(t, server.Calls(), 3)
	assert.Empty(t, server.StreamCreates())
	assert.Len(t, rec.OfKind(diagnostics.KindDeliveryRetry), 3)
	require.Len(t, rec.OfKind(diagnostics.KindDeliveryFailed), 1)
}

func TestSubmitNullTokenIsOmitted(t *testing.T) {
	server := cwlogstest.New()
	server.EnforceTokens = true
	server.AddStream(testGroup, "s")
	d := newTestDelivery(server, &diagnostics.Recorder{})

	s := &stream{name: "s", token: aws.String("bogus")}
	d.submit(context.Background(), s, []event{{timestamp: 1, message: "a"}}, "batch")

	calls := server.Calls()
	require.Len(t, calls, 2)
	require.NotNil(t, calls[0].Token)
	assert.Nil(t, calls[1].Token)
	assert.True(t, calls[1].Accepted)
}

func TestSubmitAdoptsCorrectedToken(t *testing.T) {
	server := cwlogstest.New()
	server.EnforceTokens = true
	server.AddStream(testGroup, "s")
	d := newTestDelivery(server, &diagnostics.Recorder{})
	s := &stream{name: "s"}
	d.submit(context.Background(), s, []event{{timestamp: 1, message: "a"}}, "b1")

	s.token = aws.String("stale")
	d.submit(context.Background(), s, []event{{timestamp: 2, message: "b"}}, "b2")

	calls := server.Calls()
	require.Len(t, calls, 3)
	assert.False(t, calls[1].Accepted)
	require.NotNil(t, calls[2].Token)
	assert.Equal(t, fmt.Sprintf("%056d", 1), *calls[2].Token)
	assert.True(t, calls[2].Accepted)
	assert.Len(t, server.Events(testGroup, "s"), 2)
}

func TestSubmitDataAlreadyAcceptedResolvesBatch(t *testing.T) {
	server := cwlogstest.New()
	server.AddStream(testGroup, "s")
	server.PutHook = func(*cloudwatchlogs.PutLogEventsInput) error {
		return &types.DataAlreadyAcceptedException{
			Message:               aws.String("The given batch of log events has already been accepted."),
			ExpectedSequenceToken: aws.String("next"),
		}
	}
	rec := &diagnostics.Recorder{}
	d := newTestDelivery(server, rec)
	var done atomic.Int32
	d.hooks = DeliveryHooks{OnBatchDone: func(BatchContext) { done.Add(1) }}

	s := &stream{name: "s"}
	d.submit(context.Background(), s, []event{{timestamp: 1, message: "a"}}, "batch")

	assert.Len(t, server.Calls(), 1)
	require.NotNil(t, s.token)
	assert.Equal(t, "next", *s.token)
	assert.Equal(t, int32(1), done.Load())
	assert.Empty(t, rec.Warnings())
}

func TestSubmitRetriesThenReportsFailure(t *testing.T) {
	server := cwlogstest.New()
	server.AddStream(testGroup, "s")
	boom := errors.New("connection reset")
	server.PutHook = func(*cloudwatchlogs.PutLogEventsInput) error { return boom }
	rec := &diagnostics.Recorder{}
	d := newTestDelivery(server, rec)
	d.maxRetries = 3

	var batchErr error
	var attempts int
	d.hooks = DeliveryHooks{OnBatchError: func(ctx BatchContext, err error) {
		batchErr = err
		attempts = ctx.Attempts
	}}

	assert.NotPanics(t, func() {
		d.submit(context.Background(), &stream{name: "s"}, []event{{timestamp: 1, message: "a"}}, "batch")
	})

	assert.Len(t, server.Calls(), 3)
	assert.Len(t, rec.OfKind(diagnostics.KindDeliveryRetry), 3)
	failed := rec.OfKind(diagnostics.KindDeliveryFailed)
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, errspkg.ErrRetriesExhausted)
	assert.ErrorIs(t, failed[0].Err, boom)
	assert.ErrorIs(t, batchErr, errspkg.ErrRetriesExhausted)
	assert.Equal(t, 3, attempts)
}

func TestSubmitReportsRejectedEvents(t *testing.T) {
	server := cwlogstest.New()
	server.AddStream(testGroup, "s")
	server.RejectTooOld = 2
	rec := &diagnostics.Recorder{}
	d := newTestDelivery(server, rec)

	events := []event{{timestamp: 1, message: "a"}, {timestamp: 2, message: "b"}, {timestamp: 3, message: "c"}}
	d.submit(context.Background(), &stream{name: "s"}, events, "batch")

	assert.Len(t, server.Calls(), 1, "rejected events are not resubmitted")
	rejected := rec.OfKind(diagnostics.KindRejected)
	require.Len(t, rejected, 1)
	assert.ErrorIs(t, rejected[0].Err, errspkg.ErrEventsRejected)
	assert.Contains(t, rejected[0].Message, "2 of 3")
}

func TestSubmitEmptyBatchIsNoop(t *testing.T) {
	server := cwlogstest.New()
	d := newTestDelivery(server, &diagnostics.Recorder{})

	d.submit(context.Background(), &stream{name: "s"}, nil, "batch")

	assert.Empty(t, server.Calls())
}

func TestSubmitRecoversFromPanics(t *testing.T) {
	server := cwlogstest.New()
	server.AddStream(testGroup, "s")
	server.PutHook = func(*cloudwatchlogs.PutLogEventsInput) error { panic("broken client") }
	rec := &diagnostics.Recorder{}
	d := newTestDelivery(server, rec)

	assert.NotPanics(t, func() {
		d.submit(context.Background(), &stream{name: "s"}, []event{{timestamp: 1, message: "a"}}, "batch")
	})
	assert.Len(t, rec.OfKind(diagnostics.KindInternal), 1)
}

func TestSetTokenClearsNull(t *testing.T) {
	s := &stream{token: aws.String("x")}
	s.setToken(cwlogs.NoToken)
	assert.Nil(t, s.token)

	s.setToken("abc")
	require.NotNil(t, s.token)
	assert.Equal(t, "abc", *s.token)
}
