package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/sockflow/internal/runtime/descriptor"
	errspkg "github.com/drblury/sockflow/internal/runtime/errors"
	"github.com/drblury/sockflow/internal/runtime/invoker"
	loggingpkg "github.com/drblury/sockflow/internal/runtime/logging"
)

// RegisterController validates desc and adds it to the service's controller
// set. Controllers must be registered before Start.
func RegisterController(svc *Service, desc descriptor.ControllerDescriptor) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	return svc.registerController(desc)
}

// MustRegisterController is RegisterController that panics on error.
func MustRegisterController(svc *Service, desc descriptor.ControllerDescriptor) {
	if err := RegisterController(svc, desc); err != nil {
		panic(err)
	}
}

func (s *Service) registerController(desc descriptor.ControllerDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	desc = desc.Clone()

	s.controllersMu.Lock()
	defer s.controllersMu.Unlock()

	for _, existing := range s.controllers {
		if existing.Name == desc.Name {
			return fmt.Errorf("%w: %s", errspkg.ErrControllerExists, desc.Name)
		}
	}
	s.controllers = append(s.controllers, desc)

	tracker := s.getResourceTracker()
	s.actionsMu.Lock()
	for _, action := range desc.Actions {
		s.actions = append(s.actions, &ActionInfo{
			Controller: desc.Name,
			Namespace:  desc.Namespace,
			Name:       action.Name,
			Kind:       action.Kind.String(),
			Event:      action.Event,
			Stats:      newActionStats(tracker),
		})
	}
	s.actionsMu.Unlock()

	s.Logger.Debug("Controller registered", loggingpkg.LogFields{
		"controller": desc.Name,
		"namespace":  desc.Namespace,
		"actions":    len(desc.Actions),
	})
	return nil
}

// Controllers returns the registered controllers named in names, in
// registration order. Unknown names are skipped. With no names it returns
// every registered controller.
func (s *Service) Controllers(names ...string) []descriptor.ControllerDescriptor {
	s.controllersMu.RLock()
	defer s.controllersMu.RUnlock()

	if len(names) == 0 {
		out := make([]descriptor.ControllerDescriptor, len(s.controllers))
		copy(out, s.controllers)
		return out
	}

	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}
	out := make([]descriptor.ControllerDescriptor, 0, len(names))
	for _, c := range s.controllers {
		if _, ok := wanted[c.Name]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Actions returns the stats entries of every registered action.
func (s *Service) Actions() []*ActionInfo {
	s.actionsMu.RLock()
	defer s.actionsMu.RUnlock()

	out := make([]*ActionInfo, len(s.actions))
	copy(out, s.actions)
	return out
}

func (s *Service) statsFor(controller, action string) *ActionStats {
	s.actionsMu.RLock()
	defer s.actionsMu.RUnlock()

	for _, info := range s.actions {
		if info.Controller == controller && info.Name == action {
			return info.Stats
		}
	}
	return nil
}

// statsMiddleware feeds every invocation into the ActionStats of its action.
func (s *Service) statsMiddleware(next invoker.Handler) invoker.Handler {
	classifier := s.getErrorClassifier()
	return func(ctx context.Context, call *invoker.Call) error {
		stats := s.statsFor(call.Controller, call.Action.Name)
		if stats == nil {
			return next(ctx, call)
		}

		stats.onInvocationStart()
		start := time.Now()
		err := next(ctx, call)
		stats.onInvocationFinish(time.Since(start), err, classifier)
		return err
	}
}
