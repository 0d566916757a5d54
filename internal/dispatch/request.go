package dispatch

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Action string

const (
	ActionSendSingle Action = "send_single"
	ActionSendBatch  Action = "send_batch"
	ActionSendTest   Action = "send_test"
)

// MaxBatchSize bounds a single batch request.
const MaxBatchSize = 500

type Request struct {
	Action           Action `json:"action" validate:"required,oneof=send_single send_batch send_test"`
	AccountID        string `json:"accountId" validate:"required"`
	RecipientID      string `json:"recipientId,omitempty" validate:"required_if=Action send_single"`
	BatchSize        int    `json:"batchSize,omitempty" validate:"required_if=Action send_batch,gte=0,lte=500"`
	SkipRestrictions bool   `json:"skipRestrictions,omitempty"`
	TestPhone        string `json:"testPhone,omitempty" validate:"required_if=Action send_test"`
	TestMessage      string `json:"testMessage,omitempty" validate:"required_if=Action send_test"`
}

type SingleResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type RecipientResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type BatchResult struct {
	Success bool              `json:"success"`
	Sent    int               `json:"sent"`
	Failed  int               `json:"failed"`
	Results []RecipientResult `json:"results"`
	Error   string            `json:"error,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the request shape. It does not look at any stored state.
func Validate(req Request) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "gte", "lte":
		return fmt.Sprintf("%s must be between 0 and %d", fe.Field(), MaxBatchSize)
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
