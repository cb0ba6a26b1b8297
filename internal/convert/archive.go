package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/mholt/archives"
	"go.uber.org/zap"

	"github.com/vrsandeep/extract-go/internal/util"
)

// maxMemberSize bounds how much of a single archive member is read.
const maxMemberSize = 64 << 20

type archiveMember struct {
	name    string
	content []byte
}

// archiveToText converts every supported member and joins them in natural
// order, each under a "## <member>" heading. Nested archives are skipped.
func (c *Converter) archiveToText(ctx context.Context, name string, content []byte) (string, error) {
	format, _, err := archives.Identify(ctx, name, bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("identify archive: %w", err)
	}
	ex, ok := format.(archives.Extractor)
	if !ok {
		return "", fmt.Errorf("%w: %s is not an extractable archive", ErrUnsupported, name)
	}

	var members []archiveMember
	err = ex.Extract(ctx, bytes.NewReader(content), func(ctx context.Context, f archives.FileInfo) error {
		if f.IsDir() {
			return nil
		}
		k := kindOf(f.NameInArchive)
		if k == kindUnknown || k == kindArchive || isHidden(f.NameInArchive) {
			return nil
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		b, err := io.ReadAll(io.LimitReader(rc, maxMemberSize))
		if err != nil {
			return err
		}
		members = append(members, archiveMember{name: f.NameInArchive, content: b})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("extract archive: %w", err)
	}
	if len(members) == 0 {
		return "", fmt.Errorf("%w: archive %s has no supported documents", ErrUnsupported, name)
	}

	sort.Slice(members, func(i, j int) bool {
		return util.NaturalSortLess(members[i].name, members[j].name)
	})

	var b strings.Builder
	for _, m := range members {
		text, err := c.convert(ctx, kindOf(m.name), m.name, m.content)
		if err != nil {
			if errors.Is(err, ErrUnsupported) {
				continue
			}
			c.log.Warn("Skipping unreadable archive member",
				zap.String("archive", name), zap.String("member", m.name), zap.Error(err))
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", m.name, text)
	}
	return normalizeBlankLines(b.String()), nil
}

func isHidden(name string) bool {
	for _, part := range strings.Split(path.Clean(name), "/") {
		if strings.HasPrefix(part, ".") || part == "__MACOSX" {
			return true
		}
	}
	return false
}
