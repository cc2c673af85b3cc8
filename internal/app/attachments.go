package app

import (
	"fmt"

	"github.com/aliskhannn/upload-backgrounder/internal/config"
	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

// prototypes builds empty records by owner type.
type prototypes interface {
	New(ownerType string) (model.Record, error)
}

type mounter interface {
	Mount(ownerType, attribute string, versions []model.Version) error
}

type registrar interface {
	Register(owner model.Record, attribute string, mode model.Mode, kind model.WorkerKind) error
}

// configureAttachments mounts every configured attachment and registers the
// ones with a mode for background handling.
func configureAttachments(attachments []config.Attachment, records prototypes, m mounter, r registrar) error {
	for _, a := range attachments {
		owner, err := records.New(a.Owner)
		if err != nil {
			return fmt.Errorf("attachment %s.%s: %w", a.Owner, a.Attribute, err)
		}

		if err := m.Mount(a.Owner, a.Attribute, a.Versions); err != nil {
			return err
		}

		if a.Mode == "" {
			continue
		}

		mode, err := model.ParseMode(a.Mode)
		if err != nil {
			return fmt.Errorf("attachment %s.%s: %w", a.Owner, a.Attribute, err)
		}

		kind, err := model.ParseWorkerKind(a.WorkerKind)
		if err != nil {
			return fmt.Errorf("attachment %s.%s: %w", a.Owner, a.Attribute, err)
		}

		if err := r.Register(owner, a.Attribute, mode, kind); err != nil {
			return err
		}
	}

	return nil
}
