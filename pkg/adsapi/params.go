package adsapi

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/packsync/packsync/pkg/pack"
)

// JobKind selects the server-side flow a job runs.
type JobKind string

const (
	KindImport  JobKind = "import"
	KindRefresh JobKind = "refresh"
)

// SubmitParams are the collection parameters of a new job. Imports name a new
// pack; refreshes point at an existing one.
type SubmitParams struct {
	Kind        JobKind       `json:"kind" validate:"required,oneof=import refresh"`
	PackID      string        `json:"pack_id,omitempty" validate:"required_if=Kind refresh"`
	Name        string        `json:"name,omitempty" validate:"required_if=Kind import,max=120"`
	AdAccountID string        `json:"adaccount_id,omitempty" validate:"required_if=Kind import,omitempty,startswith=act_"`
	DateStart   string        `json:"date_start,omitempty" validate:"required_if=Kind import,omitempty,datetime=2006-01-02"`
	DateStop    string        `json:"date_stop,omitempty" validate:"required_if=Kind import,omitempty,datetime=2006-01-02"`
	Filters     []pack.Filter `json:"filters,omitempty" validate:"dive"`
	AutoRefresh bool          `json:"auto_refresh"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		// report json names in messages
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			tag := fld.Tag.Get("json")
			if idx := strings.Index(tag, ","); idx >= 0 {
				tag = tag[:idx]
			}
			if tag == "" || tag == "-" {
				return fld.Name
			}
			return tag
		})
		validate = v
	})
	return validate
}

// Validate checks the parameters before anything is sent.
func (p SubmitParams) Validate() error {
	if err := getValidator().Struct(p); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid %s: failed %q check", fe.Field(), fe.Tag())
		}
		return err
	}
	if p.DateStart != "" && p.DateStop != "" {
		start, _ := time.Parse(time.DateOnly, p.DateStart)
		stop, _ := time.Parse(time.DateOnly, p.DateStop)
		if stop.Before(start) {
			return fmt.Errorf("invalid date range: %s is before %s", p.DateStop, p.DateStart)
		}
	}
	return nil
}
