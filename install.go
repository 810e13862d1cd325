package staging

import (
	"context"
	"errors"
	"time"
)

// InstallReport summarises a batch install.
type InstallReport struct {
	// Resolved lists every record installed at the end of the batch, in order,
	// including the ones that were already installed before it started.
	Resolved []*Dependency
	// Installed lists the records installed by this batch.
	Installed []*Dependency
	// Rejected lists the records whose install failed, optional ones included.
	Rejected []*Dependency
	// Failed counts the rejected records that were not optional.
	Failed int
}

// Install installs every pending record of the stage using the stage's
// validation default.
func (s *Stage) Install(ctx context.Context) (*InstallReport, error) {
	return s.InstallWith(ctx, s.cfg.requireValidation)
}

// InstallWith installs every pending record of the stage's own mapping in
// declaration order. Records already installed are reported as resolved.
// Typed failures of optional records are logged and skipped; one required
// failure is returned as *InstallationError and several as *MultipleErrors.
// Any other error, context cancellation included, stops the batch at once.
func (s *Stage) InstallWith(ctx context.Context, validationRequired bool) (*InstallReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := s.cfg.logger
	start := time.Now()
	report := &InstallReport{}
	var errs []error

	for _, dep := range s.Dependencies() {
		if dep.Installed() {
			report.Resolved = append(report.Resolved, dep)
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		err := dep.Install(ctx, validationRequired)
		if err == nil {
			report.Resolved = append(report.Resolved, dep)
			report.Installed = append(report.Installed, dep)
			continue
		}
		var depErr *DependencyError
		if !errors.As(err, &depErr) {
			return report, err
		}
		report.Rejected = append(report.Rejected, dep)
		if dep.Optional() {
			logger.Warn("optional dependency skipped", "dependency", dep.Name(), "stage", s.id, "error", err)
			continue
		}
		report.Failed++
		errs = append(errs, err)
	}

	logger.Info("stage installed",
		"stage", s.id,
		"resolved", len(report.Resolved),
		"installed", len(report.Installed),
		"rejected", len(report.Rejected),
		"failed", report.Failed,
		"duration", time.Since(start),
	)
	s.cfg.emitStage(ctx, stageInstalled, s, "", map[string]int{
		"resolved":  len(report.Resolved),
		"installed": len(report.Installed),
		"rejected":  len(report.Rejected),
		"failed":    report.Failed,
	})

	switch len(errs) {
	case 0:
		return report, nil
	case 1:
		return report, &InstallationError{Stage: s.id, Err: errs[0]}
	default:
		return report, &MultipleErrors{Header: "installation of stage " + s.id, Errs: errs}
	}
}

// InstallDependency installs the single record declared under name.
func (s *Stage) InstallDependency(ctx context.Context, name string, validationRequired bool) (*Dependency, error) {
	dep := s.Get(name)
	if dep == nil {
		return nil, newDependencyError(ErrNotInstalled, name, "dependency is not declared in this stage", nil)
	}
	if err := dep.Install(ctx, validationRequired); err != nil {
		return dep, err
	}
	return dep, nil
}
