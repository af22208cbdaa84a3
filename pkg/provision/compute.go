package provision

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/younsl/spotnode/internal/models"
	"github.com/younsl/spotnode/pkg/retry"
	"github.com/younsl/spotnode/pkg/utils"
)

// compute walks the zones cheapest first, one spot request at a time, until
// one is fulfilled. Requests are never issued in parallel.
func (r *run) compute(ctx context.Context) error {
	c := r.req.Candidate
	subnetByZone := make(map[string]string, len(r.subnets))
	for _, s := range r.subnets {
		subnetByZone[s.Zone] = s.ID
	}

	provErr := &ProvisioningError{InstanceType: c.InstanceType()}
	r.transition(StateComputeRequested)
	for _, zone := range ZoneOrder(c) {
		if err := ctx.Err(); err != nil {
			return err
		}
		subnetID, ok := subnetByZone[zone]
		if !ok {
			provErr.Failures = append(provErr.Failures, ZoneFailure{Zone: zone, Reason: ReasonOther, Message: errNoSubnet.Error()})
			continue
		}

		attempt, err := r.tryZone(ctx, zone, subnetID)
		r.result.Attempts = append(r.result.Attempts, attempt)
		if err == nil {
			r.result.Instance = attempt
			return r.waitRunning(ctx)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failure := ZoneFailure{Zone: zone, Reason: Classify(err), Message: err.Error()}
		provErr.Failures = append(provErr.Failures, failure)
		r.o.logger.Warn().
			Str("zone", zone).
			Str("reason", string(failure.Reason)).
			Str("request", attempt.RequestID).
			Err(err).
			Msg("zone failed, trying next")
	}
	return provErr
}

// tryZone issues one spot request and polls it to fulfilment. Any failure
// cancels the request so nothing keeps running in the abandoned zone.
func (r *run) tryZone(ctx context.Context, zone, subnetID string) (models.ProvisionAttempt, error) {
	c := r.req.Candidate
	attempt := models.ProvisionAttempt{Zone: zone, SubnetID: subnetID, State: models.AttemptPending}

	price := zonePrice(c, zone)
	cctx, cancel := r.call(ctx)
	requestID, err := r.o.cloud.RequestSpot(cctx, SpotRequest{
		InstanceType:     c.InstanceType(),
		ImageID:          c.Image.ID,
		SubnetID:         subnetID,
		SecurityGroupIDs: []string{r.sgID},
		KeyName:          r.key.Name,
		InstanceProfile:  r.iam.ProfileName,
		MaxPrice:         r.req.MaxPrice,
		ClientToken:      uuid.NewString(),
		Tags: utils.MergeTags(r.nameTags(r.name("spot")), map[string]string{
			utils.TagInstanceType: c.InstanceType(),
			utils.TagZone:         zone,
			utils.TagSpotPrice:    strconv.FormatFloat(price, 'f', 4, 64),
		}),
	})
	cancel()
	if err != nil {
		attempt.State = models.AttemptFailed
		attempt.Reason = err.Error()
		return attempt, err
	}
	attempt.RequestID = requestID
	r.record(models.KindSpotRequest, requestID, zone, r.sgID, r.key.Name, r.iam.ProfileName)
	r.o.logger.Info().Str("zone", zone).Str("request", requestID).Float64("zonePrice", price).Msg("spot request submitted")

	var instanceID string
	err = retry.Poll(ctx, r.o.cfg.PollAttempts, r.o.cfg.PollDelay, r.o.cfg.CallTimeout, func(pctx context.Context) (bool, error) {
		status, err := r.o.cloud.DescribeSpot(pctx, requestID)
		if err != nil {
			if retry.IsRetryable(err) {
				return false, nil
			}
			return false, err
		}
		switch status.State {
		case SpotActive:
			if status.InstanceID != "" {
				instanceID = status.InstanceID
				return true, nil
			}
		case SpotFailed, SpotCancelled, SpotClosed:
			return false, &spotStatusError{status: status}
		}
		// Open requests the market cannot fill are abandoned early
		if _, terminal := classifyCode(status.StatusCode); terminal {
			return false, &spotStatusError{status: status}
		}
		return false, nil
	})
	if err == nil {
		attempt.State = models.AttemptFulfilled
		attempt.InstanceID = instanceID
		r.record(models.KindInstance, instanceID, r.name("node"), r.sgID, r.key.Name, r.iam.ProfileName)
		return attempt, nil
	}

	attempt.State = models.AttemptFailed
	attempt.Reason = err.Error()
	// Cancel even when the caller gave up so no instance lingers in this zone
	cancelCtx, cancelFn := r.call(context.WithoutCancel(ctx))
	defer cancelFn()
	if cerr := r.o.cloud.CancelSpot(cancelCtx, requestID); cerr != nil {
		r.o.logger.Error().Err(cerr).Str("request", requestID).Msg("cancelling spot request failed")
		return attempt, errors.Join(err, fmt.Errorf("cancelling %s: %w", requestID, cerr))
	}
	attempt.State = models.AttemptCancelled
	return attempt, err
}

func (r *run) waitRunning(ctx context.Context) error {
	inst := &r.result.Instance
	addr, err := r.o.cloud.WaitRunning(ctx, inst.InstanceID)
	if err != nil {
		return fmt.Errorf("waiting for %s: %w", inst.InstanceID, err)
	}
	inst.PublicAddress = addr
	r.result.Attempts[len(r.result.Attempts)-1] = *inst
	r.o.logger.Info().
		Str("instance", inst.InstanceID).
		Str("zone", inst.Zone).
		Str("address", addr).
		Msg("instance running")
	return nil
}
