package validation

// ReconcileRequest is the payload for POST /admin/reconcile
type ReconcileRequest struct {
	Mode string `json:"mode" validate:"required,oneof=failed full"` // failed: retry failed/pending records; full: also walk the catalog
}
