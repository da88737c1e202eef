// Package cwlogs wraps the subset of the CloudWatch Logs API the handler
// talks to, and classifies the errors it returns.
package cwlogs

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/smithy-go"
)

// API is satisfied by *cloudwatchlogs.Client.
type API interface {
	CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	PutRetentionPolicy(ctx context.Context, params *cloudwatchlogs.PutRetentionPolicyInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutRetentionPolicyOutput, error)
}

var _ API = (*cloudwatchlogs.Client)(nil)

const (
	CodeInvalidSequenceToken  = "InvalidSequenceTokenException"
	CodeDataAlreadyAccepted   = "DataAlreadyAcceptedException"
	CodeResourceNotFound      = "ResourceNotFoundException"
	CodeResourceAlreadyExists = "ResourceAlreadyExistsException"

	// NoToken is the value the service reports as the expected sequence
	// token of a stream that has never been written to.
	NoToken = "null"
)

// ErrorCode returns the service error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNotFound reports whether err says the group or stream does not exist.
func IsNotFound(err error) bool { return ErrorCode(err) == CodeResourceNotFound }

// IsAlreadyExists reports whether err says the resource already exists.
func IsAlreadyExists(err error) bool { return ErrorCode(err) == CodeResourceAlreadyExists }

// IsTokenConflict reports whether err carries a corrected sequence token.
func IsTokenConflict(err error) bool {
	code := ErrorCode(err)
	return code == CodeInvalidSequenceToken || code == CodeDataAlreadyAccepted
}

// IsDataAlreadyAccepted reports whether the service already holds the batch.
func IsDataAlreadyAccepted(err error) bool { return ErrorCode(err) == CodeDataAlreadyAccepted }

// ExpectedToken extracts the sequence token the service expects next. The
// typed exceptions carry it in a field; older responses only mention it as
// the last word of the message.
func ExpectedToken(err error) (string, bool) {
	var invalid *types.InvalidSequenceTokenException
	if errors.As(err, &invalid) && invalid.ExpectedSequenceToken != nil {
		return *invalid.ExpectedSequenceToken, true
	}
	var accepted *types.DataAlreadyAcceptedException
	if errors.As(err, &accepted) && accepted.ExpectedSequenceToken != nil {
		return *accepted.ExpectedSequenceToken, true
	}
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	words := strings.Fields(apiErr.ErrorMessage())
	if len(words) == 0 {
		return "", false
	}
	return words[len(words)-1], true
}

// CreateGroup creates group, treating "already exists" as success.
func CreateGroup(ctx context.Context, api API, group string) error {
	_, err := api.CreateLogGroup(ctx, &cloudwatchlogs.CreateLogGroupInput{
		LogGroupName: aws.String(group),
	})
	if err != nil && !IsAlreadyExists(err) {
		return err
	}
	return nil
}

// CreateStream creates stream in group, treating "already exists" as
// success.
func CreateStream(ctx context.Context, api API, group, stream string) error {
	_, err := api.CreateLogStream(ctx, &cloudwatchlogs.CreateLogStreamInput{
		LogGroupName:  aws.String(group),
		LogStreamName: aws.String(stream),
	})
	if err != nil && !IsAlreadyExists(err) {
		return err
	}
	return nil
}

// GroupExists pages through DescribeLogGroups looking for an exact match.
func GroupExists(ctx context.Context, api API, group string) (bool, error) {
	input := &cloudwatchlogs.DescribeLogGroupsInput{LogGroupNamePrefix: aws.String(group)}
	for {
		out, err := api.DescribeLogGroups(ctx, input)
		if err != nil {
			return false, err
		}
		for _, g := range out.LogGroups {
			if aws.ToString(g.LogGroupName) == group {
				return true, nil
			}
		}
		if aws.ToString(out.NextToken) == "" {
			return false, nil
		}
		input.NextToken = out.NextToken
	}
}

// SetRetention applies a retention policy of days to group.
func SetRetention(ctx context.Context, api API, group string, days int) error {
	_, err := api.PutRetentionPolicy(ctx, &cloudwatchlogs.PutRetentionPolicyInput{
		LogGroupName:    aws.String(group),
		RetentionInDays: aws.Int32(int32(days)),
	})
	return err
}

// RejectedCount reports how many events of a batch of n the service refused.
// End indexes are treated as exclusive, the start index as inclusive.
func RejectedCount(info *types.RejectedLogEventsInfo, n int) int {
	if info == nil {
		return 0
	}
	rejected := 0
	if info.TooOldLogEventEndIndex != nil {
		rejected = max(rejected, int(*info.TooOldLogEventEndIndex))
	}
	if info.ExpiredLogEventEndIndex != nil {
		rejected = max(rejected, int(*info.ExpiredLogEventEndIndex))
	}
	if info.TooNewLogEventStartIndex != nil {
		rejected += n - int(*info.TooNewLogEventStartIndex)
	}
	return min(rejected, n)
}
