package recorder

// NoopRecorder is a no-op implementation used when SQLite is not configured.
type NoopRecorder struct{}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordRoll(_ *RollRecord) error               { return nil }
func (n *NoopRecorder) RecordSettle(_ *SettleRecord) error           { return nil }
func (n *NoopRecorder) RecordShareFlow(_ *ShareFlowRecord) error     { return nil }
func (n *NoopRecorder) RecordCashFlow(_ *CashFlowRecord) error       { return nil }
func (n *NoopRecorder) RecordParamChange(_ *ParamChangeRecord) error { return nil }
func (n *NoopRecorder) Close() error                                 { return nil }
