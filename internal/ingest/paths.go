package ingest

import (
	"path"
	"slices"
	"strings"

	"video-ingest/internal/platform/objectstore"
)

const manifestExt = ".m3u8"

var manifestMIMETypes = []string{
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"audio/mpegurl",
	"audio/x-mpegurl",
}

// PlaybackPrefix is the durable-storage directory a video's secondary
// playback outputs for profile are written under. It ends with a slash.
func PlaybackPrefix(id VideoID, profile string) string {
	return "videos/" + string(id) + "/playback/" + profile + "/"
}

// OriginalKey is where the raw upload of a video is stored.
func OriginalKey(id VideoID) string {
	return "videos/" + string(id) + "/original/source"
}

// FindManifest picks the manifest out of a job's output set. Files whose path
// ends in .m3u8 are preferred; declared MIME type is the fallback. When
// several files qualify, a "master" playlist wins, then the shallowest path,
// then lexical order.
func FindManifest(files []OutputFile) (OutputFile, error) {
	var byExt, byMIME []OutputFile
	for _, f := range files {
		if strings.EqualFold(path.Ext(f.Path), manifestExt) {
			byExt = append(byExt, f)
			continue
		}
		if isManifestMIME(f.MimeType) {
			byMIME = append(byMIME, f)
		}
	}
	if len(byExt) > 0 {
		return pickManifest(byExt), nil
	}
	if len(byMIME) > 0 {
		return pickManifest(byMIME), nil
	}
	return OutputFile{}, ErrManifestNotFound
}

func isManifestMIME(mime string) bool {
	base, _, _ := strings.Cut(mime, ";")
	return slices.Contains(manifestMIMETypes, strings.ToLower(strings.TrimSpace(base)))
}

func pickManifest(candidates []OutputFile) OutputFile {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if manifestLess(c, best) {
			best = c
		}
	}
	return best
}

func manifestLess(a, b OutputFile) bool {
	am, bm := isMasterName(a.Path), isMasterName(b.Path)
	if am != bm {
		return am
	}
	ad, bd := strings.Count(cleanOutputPath(a.Path), "/"), strings.Count(cleanOutputPath(b.Path), "/")
	if ad != bd {
		return ad < bd
	}
	return a.Path < b.Path
}

func isMasterName(p string) bool {
	return strings.HasPrefix(strings.ToLower(path.Base(p)), "master")
}

// CommonDirPrefix returns the deepest directory shared by every path, with a
// trailing slash, or "" when the paths share no directory.
func CommonDirPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	var common []string
	for i, p := range paths {
		dirs := strings.Split(cleanOutputPath(p), "/")
		dirs = dirs[:len(dirs)-1]
		if i == 0 {
			common = dirs
			continue
		}
		n := 0
		for n < len(common) && n < len(dirs) && common[n] == dirs[n] {
			n++
		}
		common = common[:n]
	}
	if len(common) == 0 {
		return ""
	}
	return strings.Join(common, "/") + "/"
}

// RelocatedKey strips commonPrefix from p and re-roots it under destPrefix.
func RelocatedKey(p, commonPrefix, destPrefix string) string {
	rel := strings.TrimPrefix(cleanOutputPath(p), commonPrefix)
	return destPrefix + rel
}

func cleanOutputPath(p string) string {
	return objectstore.CleanKey(p)
}

// directStorageKey converts a provider-reported path of a direct-storage job
// into an object key in bucket. Fully qualified s3:// or gs:// paths must
// name bucket.
func directStorageKey(p, bucket string) (string, bool) {
	for _, scheme := range []string{"s3://", "gs://"} {
		if rest, ok := strings.CutPrefix(p, scheme); ok {
			b, key, _ := strings.Cut(rest, "/")
			if b != bucket {
				return "", false
			}
			return objectstore.CleanKey(key), true
		}
	}
	return objectstore.CleanKey(p), true
}
