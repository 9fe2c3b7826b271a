package vault

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"YieldRoller/internal/amm"
	"YieldRoller/internal/protocol"
	"YieldRoller/internal/recorder"
)

func (r *Roller) requireOperator(caller string) error {
	if caller != r.operator {
		return fmt.Errorf("%s: %w", caller, ErrNotOperator)
	}
	return nil
}

func (r *Roller) recordParamChange(name, old, updated string) {
	err := r.rec.RecordParamChange(&recorder.ParamChangeRecord{Name: name, Old: old, New: updated})
	if err != nil {
		r.log.WithError(err).Warn("record param change failed")
	}
	r.log.WithFields(map[string]interface{}{
		"param": name,
		"old":   old,
		"new":   updated,
	}).Info("parameter changed")
}

// SetMaxRate changes the rate ceiling redemptions may push the pool to.
func (r *Roller) SetMaxRate(caller string, v decimal.Decimal) error {
	if err := r.requireOperator(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordParamChange("max_rate", r.params.MaxRate.String(), v.String())
	r.params.MaxRate = v
	return nil
}

// SetFallbackRate changes the seed rate used without an oracle reading.
func (r *Roller) SetFallbackRate(caller string, v decimal.Decimal) error {
	if err := r.requireOperator(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordParamChange("fallback_rate", r.params.FallbackRate.String(), v.String())
	r.params.FallbackRate = v
	return nil
}

// SetTargetDuration changes the series length in months.
func (r *Roller) SetTargetDuration(caller string, months int) error {
	if err := r.requireOperator(caller); err != nil {
		return err
	}
	if months < 1 {
		return fmt.Errorf("set target duration: %d months out of range", months)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordParamChange("target_duration", strconv.Itoa(r.params.TargetDuration), strconv.Itoa(months))
	r.params.TargetDuration = months
	return nil
}

// SetRollDistance changes the minimum time between rolls.
func (r *Roller) SetRollDistance(caller string, d time.Duration) error {
	if err := r.requireOperator(caller); err != nil {
		return err
	}
	if d < 0 {
		return fmt.Errorf("set roll distance: %s out of range", d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordParamChange("roll_distance", r.params.RollDistance.String(), d.String())
	r.params.RollDistance = d
	return nil
}

// SetFactory swaps the pool factory used for future series.
func (r *Roller) SetFactory(caller string, f *amm.Factory) error {
	if err := r.requireOperator(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordParamChange("factory", fmt.Sprintf("%p", r.factory), fmt.Sprintf("%p", f))
	r.factory = f
	return nil
}

// SetPeriphery swaps the periphery used for future sponsorships and sales.
func (r *Roller) SetPeriphery(caller string, p *protocol.Periphery) error {
	if err := r.requireOperator(caller); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordParamChange("periphery", fmt.Sprintf("%p", r.periphery), fmt.Sprintf("%p", p))
	r.periphery = p
	return nil
}
