package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/punchamoorthee/stockledger/internal/domain"
	"github.com/punchamoorthee/stockledger/internal/models"
	"github.com/punchamoorthee/stockledger/internal/service"
)

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into v and runs its validate tags.
func (h *Handler) decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Validation("malformed JSON body: %v", err)
	}
	if err := h.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, len(fieldErrs))
			for i, fe := range fieldErrs {
				msgs[i] = fieldMessage(fe)
			}
			return domain.Validation("%s", strings.Join(msgs, "; "))
		}
		return domain.Validation("validation error: %v", err)
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		if fe.Kind().String() == "string" {
			return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return fmt.Sprintf("%s is invalid", field)
}

func pagination(q url.Values) (page, perPage int, err error) {
	if page, err = intParam(q.Get("page"), "page", 1); err != nil {
		return 0, 0, err
	}
	if perPage, err = intParam(q.Get("per_page"), "per_page", defaultPerPage); err != nil {
		return 0, 0, err
	}
	return page, perPage, nil
}

func intParam(raw, name string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Validation("%s must be an integer", name)
	}
	return n, nil
}

func boolParam(raw, name string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.Validation("%s must be true or false", name)
	}
	return b, nil
}

func toIntent(req models.TransactionRequest) domain.Intent {
	return domain.Intent{
		Type:           domain.EntryType(req.Type),
		Quantity:       req.Qty,
		Direction:      domain.Direction(req.Direction),
		Reason:         req.Reason,
		IdempotencyKey: req.RequestID,
	}
}

func toTxResponse(e domain.LedgerEntry) models.TxResponse {
	resp := models.TxResponse{
		ID:        e.ID,
		ProductID: e.ProductID,
		Type:      string(e.Type),
		Bucket:    string(e.Bucket),
		QtyDelta:  e.Delta,
		CreatedAt: e.OccurredAt,
	}
	if e.Reason != "" {
		reason := e.Reason
		resp.Reason = &reason
	}
	return resp
}

func toStockSummary(l domain.StockLevel) models.StockSummary {
	return models.StockSummary{Available: l.Available, OnHand: l.OnHand, Reserved: l.Reserved}
}

func toTotals(t service.StockTotals) models.StockTotals {
	return models.StockTotals{
		OnHand:                t.OnHand,
		ReservedTotal:         t.ReservedTotal,
		ReservedPendingReturn: t.ReservedPendingReturn,
		ReservedPendingOrder:  t.ReservedPendingOrder,
		Available:             t.Available,
		StockValue:            t.StockValue,
	}
}

func toDashboardItem(it service.StockItem) models.DashboardStockItem {
	return models.DashboardStockItem{
		ProductID: it.Product.ID,
		Code:      it.Product.Code,
		Name:      it.Product.Name,
		Unit:      it.Product.Unit,
		UnitPrice: it.Product.UnitPrice,
		StockTotals: models.StockTotals{
			OnHand:                it.OnHand,
			ReservedTotal:         it.ReservedTotal,
			ReservedPendingReturn: it.ReservedPendingReturn,
			ReservedPendingOrder:  it.ReservedPendingOrder,
			Available:             it.Available,
			StockValue:            it.StockValue,
		},
	}
}

func toStockListItem(it service.StockItem) models.StockListItem {
	return models.StockListItem{
		DashboardStockItem: toDashboardItem(it),
		Spec:               it.Product.Spec,
		UnitWeight:         it.Product.UnitWeight,
		ReorderPoint:       it.Product.ReorderPoint,
		NeedsReorder:       it.NeedsReorder,
	}
}
