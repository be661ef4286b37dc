package api

import (
	"fmt"
	"net/http"
	"testing"

	"zapcrm/internal/ai"
	"zapcrm/internal/billing"
	"zapcrm/internal/database"
	"zapcrm/internal/warming"
	"zapcrm/internal/whatsapp"

	"gorm.io/gorm"
)

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{gorm.ErrRecordNotFound, http.StatusNotFound},
		{fmt.Errorf("load: %w", gorm.ErrRecordNotFound), http.StatusNotFound},
		{ai.ErrRateLimited, http.StatusTooManyRequests},
		{ai.ErrPaymentRequired, http.StatusPaymentRequired},
		{fmt.Errorf("%w: %q", billing.ErrUnknownPlan, "gold"), http.StatusBadRequest},
		{fmt.Errorf("%w %q", database.ErrUnknownSetting, "X"), http.StatusBadRequest},
		{warming.ErrScheduleExists, http.StatusConflict},
		{errNoInstance, http.StatusConflict},
		{fmt.Errorf("send: %w", &whatsapp.APIError{Status: 500}), http.StatusBadGateway},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusOf(c.err); got != c.want {
			t.Errorf("statusOf(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
