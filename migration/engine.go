// Package migration copies services between network models.
package migration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"

	"github.com/timzifer/netprefs/internal/logging"
	"github.com/timzifer/netprefs/network"
	"github.com/timzifer/netprefs/prefs"
	"github.com/timzifer/netprefs/secrets"
	"github.com/timzifer/netprefs/telemetry"
)

// ErrMigrationFailed marks every failed service migration.
var ErrMigrationFailed = errors.New("migration failed")

// Stage names a step of a service migration.
type Stage string

// Migration stages in execution order.
const (
	StageValidate            Stage = "validate"
	StageCreateInterface     Stage = "create-interface"
	StageCreateService       Stage = "create-service"
	StageEnable              Stage = "enable"
	StageEstablishDefaults   Stage = "establish-defaults"
	StageAssignSetMembership Stage = "assign-set-membership"
	StageCopyProtocols       Stage = "copy-protocols"
	StageCopyConfiguration   Stage = "copy-configuration"
	StageDone                Stage = "done"
)

// Error reports the stage at which a service migration failed.
type Error struct {
	ServiceID string
	Stage     Stage
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("migrate service %s: %s: %v", e.ServiceID, e.Stage, e.Err)
}

// Unwrap exposes both ErrMigrationFailed and the cause.
func (e *Error) Unwrap() []error {
	return []error{ErrMigrationFailed, e.Err}
}

// Option configures an Engine.
type Option func(*Engine) error

// WithLogger sets the logger for migration events.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithTelemetry records one outcome per migrated service.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(e *Engine) error {
		if collector == nil {
			collector = telemetry.Noop()
		}
		e.telemetry = collector
		return nil
	}
}

// WithSecrets enables checking that secrets referenced by copied
// configuration stay resolvable.
func WithSecrets(store secrets.Store) Option {
	return func(e *Engine) error {
		e.secrets = store
		return nil
	}
}

// WithFilter restricts Migrate to services for which the boolean expression
// holds. The expression sees the fields of ServiceInfo.
func WithFilter(expression string) Option {
	return func(e *Engine) error {
		program, err := compileFilter(expression)
		if err != nil {
			return err
		}
		e.filter = program
		return nil
	}
}

// Engine migrates services from a source model into a destination model.
type Engine struct {
	logger    zerolog.Logger
	telemetry telemetry.Collector
	secrets   secrets.Store
	filter    *vm.Program
}

// New constructs an engine.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{logger: zerolog.Nop(), telemetry: telemetry.Noop()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = logging.Component(e.logger, "migration")
	return e, nil
}

// Report summarises a Migrate run.
type Report struct {
	Migrated []string
	Skipped  []string
	Failed   map[string]error
}

// Migrate migrates every service of src that is selected by the filter.
// Services without a set membership mapping are skipped. The returned error
// joins the failures of individual services.
func (e *Engine) Migrate(src, dst *network.Model, m Mappings) (*Report, error) {
	if src == nil || dst == nil {
		return nil, fmt.Errorf("migrate: %w", prefs.ErrInvalidArgument)
	}
	report := &Report{Failed: map[string]error{}}
	var errs []error
	for _, service := range src.Services() {
		selected, err := e.selects(service, m)
		if err != nil {
			return report, err
		}
		if !selected {
			report.Skipped = append(report.Skipped, service.ID())
			e.telemetry.IncMigration(telemetry.OutcomeSkipped)
			continue
		}
		if len(m.ServiceSets[service.ID()]) == 0 {
			e.logger.Debug().Str("service", service.ID()).Msg("service has no set membership, not migrated")
			report.Skipped = append(report.Skipped, service.ID())
			e.telemetry.IncMigration(telemetry.OutcomeSkipped)
			continue
		}
		if err := e.MigrateService(service, dst, m); err != nil {
			report.Failed[service.ID()] = err
			errs = append(errs, err)
			continue
		}
		report.Migrated = append(report.Migrated, service.ID())
	}
	return report, errors.Join(errs...)
}

// MigrateService copies one service into dst. On failure the destination
// document is restored to its state before the attempt and the returned
// error wraps ErrMigrationFailed.
func (e *Engine) MigrateService(src *network.Service, dst *network.Model, m Mappings) error {
	run := &migrationRun{engine: e, src: src, dst: dst, mappings: m}
	err := run.execute()
	if err != nil {
		e.telemetry.IncMigration(telemetry.OutcomeFailed)
		e.logger.Warn().Err(err).Str("service", src.ID()).Msg("service not migrated")
		return err
	}
	e.telemetry.IncMigration(telemetry.OutcomeMigrated)
	e.logger.Info().Str("service", src.ID()).Msg("service migrated")
	return nil
}

type migrationRun struct {
	engine   *Engine
	src      *network.Service
	dst      *network.Model
	mappings Mappings

	iface    *network.Interface
	service  *network.Service
	snapshot prefs.Snapshot
}

func (r *migrationRun) execute() error {
	stage := StageValidate
	if err := r.validate(); err != nil {
		return r.fail(stage, err)
	}
	stage = StageCreateInterface
	iface, err := r.remapInterface()
	if err != nil {
		return r.fail(stage, err)
	}
	r.iface = iface

	r.snapshot = r.dst.Store().Snapshot()
	stage = StageCreateService
	service, err := r.dst.CreateServiceWithID(r.src.ID(), r.iface)
	if err != nil {
		return r.rollback(stage, err)
	}
	r.service = service

	steps := []struct {
		stage Stage
		run   func() error
	}{
		{StageEnable, r.enable},
		{StageEstablishDefaults, r.service.EstablishDefaultConfiguration},
		{StageAssignSetMembership, r.assignSets},
		{StageCopyProtocols, r.copyProtocols},
		{StageCopyConfiguration, r.copyConfiguration},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			return r.rollback(step.stage, err)
		}
	}
	r.checkSecrets()
	return nil
}

func (r *migrationRun) fail(stage Stage, err error) error {
	return &Error{ServiceID: r.src.ID(), Stage: stage, Err: err}
}

func (r *migrationRun) rollback(stage Stage, err error) error {
	errs := []error{err}
	if restoreErr := r.dst.Store().Restore(r.snapshot); restoreErr != nil {
		errs = append(errs, fmt.Errorf("rollback: %w", restoreErr))
	}
	r.engine.logger.Debug().Str("service", r.src.ID()).Str("stage", string(stage)).Msg("destination service rolled back")
	return r.fail(stage, errors.Join(errs...))
}

func (r *migrationRun) validate() error {
	if r.src == nil || !r.src.Exists() || r.src.Interface() == nil {
		return fmt.Errorf("source service: %w", prefs.ErrNoSuchKey)
	}
	if r.dst == nil {
		return fmt.Errorf("destination model: %w", prefs.ErrInvalidArgument)
	}
	if _, err := r.dst.Service(r.src.ID()); err == nil {
		return fmt.Errorf("destination service %s: %w", r.src.ID(), prefs.ErrKeyExists)
	}
	if len(r.mappings.ServiceSets[r.src.ID()]) == 0 {
		return fmt.Errorf("no set membership for service %s: %w", r.src.ID(), prefs.ErrInvalidArgument)
	}
	return nil
}

func (r *migrationRun) remapInterface() (*network.Interface, error) {
	srcIface := r.src.Interface()
	entity := srcIface.Entity()
	oldDevice := srcIface.DeviceName()
	newDevice, ok := r.mappings.device(oldDevice)
	if !ok {
		return network.NewInterface(entity)
	}
	entity[network.KeyDeviceName] = newDevice
	if name := entity.String(network.KeyUserDefinedName); name != "" {
		entity[network.KeyUserDefinedName] = strings.ReplaceAll(name, oldDevice, newDevice)
	}
	r.engine.logger.Debug().Str("service", r.src.ID()).Str("from", oldDevice).Str("to", newDevice).Msg("device remapped")
	return network.NewInterface(entity)
}

func (r *migrationRun) enable() error {
	if name := r.src.Name(); name != "" && name != r.src.Interface().UserDefinedName() {
		if oldDevice := r.src.Interface().DeviceName(); oldDevice != "" {
			if newDevice, ok := r.mappings.device(oldDevice); ok {
				name = strings.ReplaceAll(name, oldDevice, newDevice)
			}
		}
		if err := r.service.SetName(name); err != nil {
			return err
		}
	}
	if err := r.service.SetPrimaryRank(rankOf(r.src)); err != nil {
		return err
	}
	return r.service.SetEnabled(r.src.Enabled())
}

func rankOf(service *network.Service) network.Rank {
	rank, err := service.PrimaryRank()
	if err != nil {
		return network.RankDefault
	}
	return rank
}

func (r *migrationRun) assignSets() error {
	srcSets := map[string]*network.Set{}
	for _, set := range r.src.Sets() {
		srcSets[set.ID()] = set
	}
	assigned := 0
	for _, oldID := range r.mappings.ServiceSets[r.src.ID()] {
		newID, ok := r.mappings.Sets[oldID]
		if !ok || newID == "" {
			continue
		}
		set, err := r.destinationSet(newID, srcSets[oldID])
		if err != nil {
			return err
		}
		if err := set.AddService(r.service); err != nil {
			if errors.Is(err, prefs.ErrKeyExists) {
				r.engine.logger.Warn().Err(err).Str("service", r.src.ID()).Str("set", newID).Msg("set membership skipped")
				continue
			}
			return err
		}
		assigned++
	}
	if assigned == 0 {
		return fmt.Errorf("service %s would not be a member of any set: %w", r.src.ID(), prefs.ErrNoSuchKey)
	}
	return nil
}

func (r *migrationRun) destinationSet(id string, source *network.Set) (*network.Set, error) {
	set, err := r.dst.Set(id)
	if err == nil {
		return set, nil
	}
	if !errors.Is(err, prefs.ErrNoSuchKey) {
		return nil, err
	}
	name := ""
	if source != nil {
		name = source.Name()
	}
	return r.dst.CreateSetWithID(id, name)
}

func (r *migrationRun) copyProtocols() error {
	for _, protocol := range r.src.Protocols() {
		target, err := r.service.Protocol(protocol.Type())
		if errors.Is(err, prefs.ErrNoSuchKey) {
			target, err = r.service.AddProtocolType(protocol.Type())
		}
		if err != nil {
			return fmt.Errorf("protocol %s: %w", protocol.Type(), err)
		}
		if err := target.SetConfiguration(protocol.Configuration()); err != nil {
			return fmt.Errorf("protocol %s: %w", protocol.Type(), err)
		}
		if err := target.SetEnabled(protocol.Enabled()); err != nil {
			return fmt.Errorf("protocol %s: %w", protocol.Type(), err)
		}
	}
	return nil
}

func (r *migrationRun) copyConfiguration() error {
	return r.dst.CopyInterfaceConfiguration(r.src, r.service)
}

var passwordKinds = map[network.PasswordType]string{
	network.PasswordPPP:               "ppp",
	network.PasswordIPSecSharedSecret: "ipsec",
	network.PasswordEAPOL:             "eapol",
}

func (r *migrationRun) checkSecrets() {
	store := r.engine.secrets
	if store == nil {
		return
	}
	for kind, label := range passwordKinds {
		if r.src.PasswordExists(store, kind) && !r.service.PasswordExists(store, kind) {
			r.engine.logger.Warn().Str("service", r.src.ID()).Str("secret", label).Msg("secret not resolvable after migration")
		}
	}
}
