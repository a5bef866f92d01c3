package normalize

import (
	"path"
	"strings"

	"github.com/finledger/pipeline/internal/domain"
)

// FileMeta is the identity a source file carries in its name.
type FileMeta struct {
	FileName    string
	SourceType  domain.SourceType
	Institution string
	AccountID   string
}

// ParseFileName extracts institution and account from the export naming
// convention. Two forms are accepted:
//
//	institution_account.csv          (source type must be declared by the caller)
//	source_institution_account.csv   (source type encoded in the name)
//
// When both are present the encoded type must agree with the declared one.
func ParseFileName(fileName string, declared domain.SourceType) (FileMeta, error) {
	base := path.Base(fileName)

	if !strings.EqualFold(path.Ext(base), ".csv") {
		return FileMeta{}, &domain.NamingConventionError{
			FileName: base,
			Reason:   "expected a .csv extension",
		}
	}

	stem := strings.TrimSuffix(base, path.Ext(base))
	parts := strings.Split(stem, "_")

	meta := FileMeta{FileName: base}

	switch len(parts) {
	case 2:
		if declared == "" {
			return FileMeta{}, &domain.NamingConventionError{
				FileName: base,
				Reason:   "source type is neither declared nor encoded in the name",
			}
		}
		meta.SourceType = declared
		meta.Institution = strings.ToLower(parts[0])
		meta.AccountID = strings.ToLower(parts[1])
	case 3:
		encoded, err := domain.ParseSourceType(strings.ToLower(parts[0]))
		if err != nil {
			return FileMeta{}, &domain.NamingConventionError{
				FileName: base,
				Reason:   "leading segment is not a known source type",
			}
		}
		if declared != "" && declared != encoded {
			return FileMeta{}, &domain.NamingConventionError{
				FileName: base,
				Reason:   "encoded source type disagrees with the declared one",
			}
		}
		meta.SourceType = encoded
		meta.Institution = strings.ToLower(parts[1])
		meta.AccountID = strings.ToLower(parts[2])
	default:
		return FileMeta{}, &domain.NamingConventionError{
			FileName: base,
			Reason:   "expected institution_account.csv or source_institution_account.csv",
		}
	}

	if meta.Institution == "" || meta.AccountID == "" {
		return FileMeta{}, &domain.NamingConventionError{
			FileName: base,
			Reason:   "institution and account segments must be non-empty",
		}
	}
	return meta, nil
}
