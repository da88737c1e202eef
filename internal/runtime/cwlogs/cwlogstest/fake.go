// Package cwlogstest provides an in-memory CloudWatch Logs service for
// tests.
package cwlogstest

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
)

// Event is a stored log event.
type Event struct {
	Timestamp int64
	Message   string
}

// PutCall records one PutLogEvents request as received.
type PutCall struct {
	Group    string
	Stream   string
	Token    *string
	Events   []Event
	Accepted bool
}

type stream struct {
	events []Event
	seq    int
}

// Server is a fake CloudWatch Logs API. The zero value is not usable; call
// New.
type Server struct {
	mu sync.Mutex

	groups    map[string]map[string]*stream
	retention map[string]int32
	calls     []PutCall
	creates   []string

	// EnforceTokens makes PutLogEvents validate sequence tokens the way the
	// service did before tokens became optional.
	EnforceTokens bool

	// PutHook, when set, runs before every PutLogEvents. A non-nil error is
	// returned to the caller instead of storing the events.
	PutHook func(in *cloudwatchlogs.PutLogEventsInput) error

	// RejectTooOld, when positive, reports that many leading events as too
	// old on every successful put.
	RejectTooOld int32
}

// New returns an empty server.
func New() *Server {
	return &Server{
		groups:    make(map[string]map[string]*stream),
		retention: make(map[string]int32),
	}
}

func (s *Server) CreateLogGroup(_ context.Context, in *cloudwatchlogs.CreateLogGroupInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(in.LogGroupName)
	if _, ok := s.groups[name]; ok {
		return nil, &types.ResourceAlreadyExistsException{Message: aws.String("The specified log group already exists")}
	}
	s.groups[name] = make(map[string]*stream)
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (s *Server) CreateLogStream(_ context.Context, in *cloudwatchlogs.CreateLogStreamInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	group, ok := s.groups[aws.ToString(in.LogGroupName)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("The specified log group does not exist.")}
	}
	name := aws.ToString(in.LogStreamName)
	s.creates = append(s.creates, name)
	if _, ok := group[name]; ok {
		return nil, &types.ResourceAlreadyExistsException{Message: aws.String("The specified log stream already exists")}
	}
	group[name] = &stream{}
	return &cloudwatchlogs.CreateLogStreamOutput{}, nil
}

func (s *Server) PutLogEvents(_ context.Context, in *cloudwatchlogs.PutLogEventsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	if s.PutHook != nil {
		if err := s.PutHook(in); err != nil {
			s.record(in, false)
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	call := newCall(in)
	group, ok := s.groups[call.Group]
	if !ok {
		s.calls = append(s.calls, call)
		return nil, &types.ResourceNotFoundException{Message: aws.String("The specified log group does not exist.")}
	}
	st, ok := group[call.Stream]
	if !ok {
		s.calls = append(s.calls, call)
		return nil, &types.ResourceNotFoundException{Message: aws.String("The specified log stream does not exist.")}
	}
	if s.EnforceTokens {
		expected := expectedToken(st)
		if aws.ToString(in.SequenceToken) != tokenOrEmpty(expected) {
			s.calls = append(s.calls, call)
			return nil, &types.InvalidSequenceTokenException{
				Message:               aws.String("The given sequenceToken is invalid. The next expected sequenceToken is: " + expected),
				ExpectedSequenceToken: aws.String(expected),
			}
		}
	}

	call.Accepted = true
	s.calls = append(s.calls, call)
	st.events = append(st.events, call.Events...)
	st.seq++

	out := &cloudwatchlogs.PutLogEventsOutput{NextSequenceToken: aws.String(expectedToken(st))}
	if s.RejectTooOld > 0 {
		out.RejectedLogEventsInfo = &types.RejectedLogEventsInfo{TooOldLogEventEndIndex: aws.Int32(s.RejectTooOld)}
	}
	return out, nil
}

func (s *Server) DescribeLogGroups(_ context.Context, in *cloudwatchlogs.DescribeLogGroupsInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := aws.ToString(in.LogGroupNamePrefix)
	out := &cloudwatchlogs.DescribeLogGroupsOutput{}
	for name := range s.groups {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out.LogGroups = append(out.LogGroups, types.LogGroup{LogGroupName: aws.String(name)})
		}
	}
	return out, nil
}

func (s *Server) PutRetentionPolicy(_ context.Context, in *cloudwatchlogs.PutRetentionPolicyInput, _ ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := aws.ToString(in.LogGroupName)
	if _, ok := s.groups[name]; !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("The specified log group does not exist.")}
	}
	s.retention[name] = aws.ToInt32(in.RetentionInDays)
	return &cloudwatchlogs.PutRetentionPolicyOutput{}, nil
}

// AddGroup creates a group without going through the API.
func (s *Server) AddGroup(group string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = make(map[string]*stream)
	}
}

// AddStream creates group and stream without going through the API.
func (s *Server) AddStream(group, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; !ok {
		s.groups[group] = make(map[string]*stream)
	}
	if _, ok := s.groups[group][name]; !ok {
		s.groups[group][name] = &stream{}
	}
}

// DeleteStream removes a stream and its events.
func (s *Server) DeleteStream(group, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups[group], name)
}

// HasStream reports whether the stream exists.
func (s *Server) HasStream(group, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.groups[group][name]
	return ok
}

// Events returns the events stored in a stream.
func (s *Server) Events(group, name string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.groups[group][name]
	if !ok {
		return nil
	}
	return append([]Event(nil), st.events...)
}

// Calls returns every PutLogEvents request received so far.
func (s *Server) Calls() []PutCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PutCall(nil), s.calls...)
}

// AcceptedCalls returns the PutLogEvents requests that stored events.
func (s *Server) AcceptedCalls() []PutCall {
	var out []PutCall
	for _, c := range s.Calls() {
		if c.Accepted {
			out = append(out, c)
		}
	}
	return out
}

// StreamCreates returns the stream names passed to CreateLogStream.
func (s *Server) StreamCreates() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.creates...)
}

// Retention returns the retention applied to group, or 0.
func (s *Server) Retention(group string) int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retention[group]
}

func (s *Server) record(in *cloudwatchlogs.PutLogEventsInput, accepted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call := newCall(in)
	call.Accepted = accepted
	s.calls = append(s.calls, call)
}

func newCall(in *cloudwatchlogs.PutLogEventsInput) PutCall {
	call := PutCall{
		Group:  aws.ToString(in.LogGroupName),
		Stream: aws.ToString(in.LogStreamName),
		Events: make([]Event, 0, len(in.LogEvents)),
	}
	if in.SequenceToken != nil {
		call.Token = aws.String(*in.SequenceToken)
	}
	for _, e := range in.LogEvents {
		call.Events = append(call.Events, Event{Timestamp: aws.ToInt64(e.Timestamp), Message: aws.ToString(e.Message)})
	}
	return call
}

func expectedToken(st *stream) string {
	if st.seq == 0 {
		return "null"
	}
	return fmt.Sprintf("%056d", st.seq)
}

func tokenOrEmpty(expected string) string {
	if expected == "null" {
		return ""
	}
	return expected
}
