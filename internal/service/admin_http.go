package service

import (
	"context"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// Operation names, used by middleware selectors and request logs.
const (
	OperationForceState        = "/admin.v1.Admin/ForceState"
	OperationListCircuitStates = "/admin.v1.Admin/ListCircuitStates"
	OperationGetCircuitState   = "/admin.v1.Admin/GetCircuitState"
	OperationCheckPermit       = "/admin.v1.Admin/CheckPermit"
	OperationRecordCall        = "/admin.v1.Admin/RecordCall"
	OperationEvaluateCircuits  = "/admin.v1.Admin/EvaluateCircuits"
	OperationGetAvailability   = "/admin.v1.Admin/GetAvailability"
	OperationBatchAvailability = "/admin.v1.Admin/BatchAvailability"
	OperationFailureStatistics = "/admin.v1.Admin/FailureStatistics"
	OperationEarlyRecovery     = "/admin.v1.Admin/EarlyRecovery"
	OperationRunProbes         = "/admin.v1.Admin/RunProbes"
	OperationListDependencies  = "/admin.v1.Admin/ListDependencies"
	OperationGetDependency     = "/admin.v1.Admin/GetDependency"
)

// RegisterAdminHTTPServer mounts the admin routes on s.
func RegisterAdminHTTPServer(s *http.Server, svc *AdminService) {
	r := s.Route("/")
	r.POST("/v1/circuit-breakers/evaluate", route(OperationEvaluateCircuits, 202, func(ctx context.Context, _ http.Context) (interface{}, error) {
		return svc.EvaluateCircuits(ctx)
	}))
	r.GET("/v1/circuit-breakers", route(OperationListCircuitStates, 200, func(ctx context.Context, _ http.Context) (interface{}, error) {
		return svc.ListCircuitStates(ctx)
	}))
	r.GET("/v1/circuit-breakers/{id}", route(OperationGetCircuitState, 200, func(ctx context.Context, c http.Context) (interface{}, error) {
		return svc.GetCircuitState(ctx, c.Vars().Get("id"))
	}))
	r.POST("/v1/circuit-breakers/{id}/force", routeBody(OperationForceState, 200, func(c http.Context) (interface{}, error) {
		in := &ForceStateRequest{}
		if err := c.Bind(in); err != nil {
			return nil, err
		}
		in.ID = c.Vars().Get("id")
		return in, nil
	}, func(ctx context.Context, _ http.Context, req interface{}) (interface{}, error) {
		return svc.ForceState(ctx, req.(*ForceStateRequest))
	}))
	r.GET("/v1/circuit-breakers/{id}/permit", route(OperationCheckPermit, 200, func(ctx context.Context, c http.Context) (interface{}, error) {
		return svc.CheckPermit(ctx, c.Vars().Get("id"))
	}))
	r.POST("/v1/circuit-breakers/{id}/calls", routeBody(OperationRecordCall, 200, func(c http.Context) (interface{}, error) {
		in := &RecordCallRequest{}
		if err := c.Bind(in); err != nil {
			return nil, err
		}
		in.ID = c.Vars().Get("id")
		return in, nil
	}, func(ctx context.Context, _ http.Context, req interface{}) (interface{}, error) {
		return svc.RecordCall(ctx, req.(*RecordCallRequest))
	}))

	r.GET("/v1/availability/statistics", route(OperationFailureStatistics, 200, func(ctx context.Context, _ http.Context) (interface{}, error) {
		return svc.FailureStatistics(ctx)
	}))
	r.POST("/v1/availability/batch", routeBody(OperationBatchAvailability, 200, func(c http.Context) (interface{}, error) {
		in := &BatchAvailabilityRequest{}
		if err := c.Bind(in); err != nil {
			return nil, err
		}
		return in, nil
	}, func(ctx context.Context, _ http.Context, req interface{}) (interface{}, error) {
		return svc.BatchAvailability(ctx, req.(*BatchAvailabilityRequest))
	}))
	r.GET("/v1/availability/{id}", route(OperationGetAvailability, 200, func(ctx context.Context, c http.Context) (interface{}, error) {
		return svc.GetAvailability(ctx, c.Vars().Get("id"))
	}))
	r.POST("/v1/availability/{id}/early-recovery", route(OperationEarlyRecovery, 200, func(ctx context.Context, c http.Context) (interface{}, error) {
		return svc.EarlyRecovery(ctx, c.Vars().Get("id"))
	}))

	r.POST("/v1/probes/run", route(OperationRunProbes, 202, func(ctx context.Context, _ http.Context) (interface{}, error) {
		return svc.RunProbes(ctx)
	}))
	r.GET("/v1/dependencies", route(OperationListDependencies, 200, func(ctx context.Context, _ http.Context) (interface{}, error) {
		return svc.ListDependencies(ctx)
	}))
	r.GET("/v1/dependencies/{id}", route(OperationGetDependency, 200, func(ctx context.Context, c http.Context) (interface{}, error) {
		return svc.GetDependency(ctx, c.Vars().Get("id"))
	}))
}

type (
	decodeFunc func(c http.Context) (interface{}, error)
	bodyCall   func(ctx context.Context, c http.Context, req interface{}) (interface{}, error)
	plainCall  func(ctx context.Context, c http.Context) (interface{}, error)
)

func route(operation string, code int, call plainCall) http.HandlerFunc {
	return routeBody(operation, code, nil, func(ctx context.Context, c http.Context, _ interface{}) (interface{}, error) {
		return call(ctx, c)
	})
}

// routeBody builds a handler that runs the server middleware chain under the
// given operation name, the same way generated kratos handlers do.
func routeBody(operation string, code int, decode decodeFunc, call bodyCall) http.HandlerFunc {
	return func(c http.Context) error {
		var in interface{}
		if decode != nil {
			var err error
			if in, err = decode(c); err != nil {
				return err
			}
		}
		http.SetOperation(c, operation)
		h := c.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(ctx, c, req)
		})
		out, err := h(c, in)
		if err != nil {
			return err
		}
		return c.Result(code, out)
	}
}
