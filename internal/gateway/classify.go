package gateway

import (
	"context"
	"errors"
	"net"

	"github.com/roach88/perpetua/internal/model"
)

var tagKinds = map[string]model.Kind{
	TagNotOwner:            model.KindAuthorization,
	TagUnauthorized:        model.KindAuthorization,
	TagForbidden:           model.KindAuthorization,
	TagRebalanceInProgress: model.KindConflict,
	TagItemNotFound:        model.KindConflict,
	TagSlotNotFound:        model.KindConflict,
	TagReferenceNotFound:   model.KindConflict,
	TagShelfNotFound:       model.KindConflict,
	TagPositionConflict:    model.KindConflict,
	TagInvalidInput:        model.KindValidation,
	TagCycleDetected:       model.KindValidation,
}

// Classify maps an actor error onto the error taxonomy.
func Classify(op string, err error) *model.Error {
	var me *model.Error
	if errors.As(err, &me) {
		return me
	}

	var rej *Rejection
	if errors.As(err, &rej) {
		kind, ok := tagKinds[rej.Tag]
		if !ok {
			return &model.Error{Kind: model.KindUnknown, Op: op, Detail: rej.Error(), Err: err}
		}
		return &model.Error{Kind: kind, Op: op, Detail: rej.Tag, Err: err}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.As(err, &netErr):
		return &model.Error{Kind: model.KindTransientNetwork, Op: op, Detail: err.Error(), Err: err}
	}
	return &model.Error{Kind: model.KindUnknown, Op: op, Detail: err.Error(), Err: err}
}

// IsRebalanceConflict reports whether err is a conflict caused by a
// rebalance in progress on the authority.
func IsRebalanceConflict(err error) bool {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej.Tag == TagRebalanceInProgress
	}
	return false
}
