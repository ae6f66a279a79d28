package httpserver_test

import (
	"testing"

	"github.com/lllypuk/userfeed/internal/infrastructure/httpserver"
	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name       string
		components []httpserver.ComponentStatus
		want       string
	}{
		{name: "no components", want: httpserver.StatusHealthy},
		{
			name: "all healthy",
			components: []httpserver.ComponentStatus{
				{Name: "main_loop", Status: httpserver.StatusHealthy},
				{Name: "websocket_hub", Status: httpserver.StatusHealthy},
			},
			want: httpserver.StatusHealthy,
		},
		{
			name: "degraded redis",
			components: []httpserver.ComponentStatus{
				{Name: "main_loop", Status: httpserver.StatusHealthy},
				{Name: "redis", Status: httpserver.StatusDegraded},
			},
			want: httpserver.StatusDegraded,
		},
		{
			name: "unhealthy wins regardless of order",
			components: []httpserver.ComponentStatus{
				{Name: "main_loop", Status: httpserver.StatusUnhealthy},
				{Name: "redis", Status: httpserver.StatusDegraded},
			},
			want: httpserver.StatusUnhealthy,
		},
		{
			name: "unknown status counts as unhealthy",
			components: []httpserver.ComponentStatus{
				{Name: "websocket_hub", Status: "starting"},
			},
			want: httpserver.StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, httpserver.Aggregate(tt.components))
		})
	}
}
