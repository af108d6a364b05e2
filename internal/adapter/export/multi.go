package export

import (
	"context"
	"errors"

	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
)

// Multi fans an export out to several exporters. Every exporter runs even if
// an earlier one failed.
type Multi []repository.Exporter

func (m Multi) Export(ctx context.Context, records []entity.BusinessRecord, format repository.ExportFormat) ([]string, error) {
	var (
		files []string
		errs  []error
	)
	for _, e := range m {
		out, err := e.Export(ctx, records, format)
		files = append(files, out...)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return files, errors.Join(errs...)
}
