// Package metrics reports publish outcomes and pacing to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-product-relay/internal/aws"
)

// Attempt describes one finished publish attempt.
type Attempt struct {
	ProductID string
	Reason    string
	Outcome   string // published, updated, skipped, retired, failed, rate_limited
	Duration  time.Duration
	Interval  time.Duration // pacing interval after the attempt
	Depth     int
}

// Recorder receives attempt observations. Implementations must not block
// the caller for long and must not fail it.
type Recorder interface {
	RecordAttempt(ctx context.Context, a Attempt)
}

// Nop discards observations.
type Nop struct{}

// RecordAttempt implements Recorder.
func (Nop) RecordAttempt(context.Context, Attempt) {}

// CloudWatchRecorder puts one small batch of metrics per attempt.
type CloudWatchRecorder struct {
	client    aws.CloudWatchAPI
	namespace string
	timeout   time.Duration
	logger    *zap.Logger
	nowFunc   func() time.Time
}

// NewCloudWatchRecorder returns a Recorder writing into namespace.
func NewCloudWatchRecorder(client aws.CloudWatchAPI, namespace string, logger *zap.Logger) *CloudWatchRecorder {
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		timeout:   5 * time.Second,
		logger:    logger.Named("metrics"),
		nowFunc:   time.Now,
	}
}

// RecordAttempt implements Recorder. Errors are logged and swallowed.
func (r *CloudWatchRecorder) RecordAttempt(ctx context.Context, a Attempt) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.put(ctx, a); err != nil {
		r.logger.Warn("put metric data failed", zap.Error(err))
	}
}

func (r *CloudWatchRecorder) put(ctx context.Context, a Attempt) error {
	now := r.nowFunc()
	outcome := []cwtypes.Dimension{{Name: sdkaws.String("Outcome"), Value: sdkaws.String(a.Outcome)}}

	data := []cwtypes.MetricDatum{
		{
			MetricName: sdkaws.String("PublishAttempts"),
			Dimensions: outcome,
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(1),
		},
		{
			MetricName: sdkaws.String("PublishDuration"),
			Dimensions: outcome,
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitMilliseconds,
			Value:      sdkaws.Float64(float64(a.Duration.Milliseconds())),
		},
		{
			MetricName: sdkaws.String("PublishIntervalSeconds"),
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitSeconds,
			Value:      sdkaws.Float64(a.Interval.Seconds()),
		},
		{
			MetricName: sdkaws.String("QueueDepth"),
			Timestamp:  &now,
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(float64(a.Depth)),
		},
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

var (
	_ Recorder = Nop{}
	_ Recorder = (*CloudWatchRecorder)(nil)
)
