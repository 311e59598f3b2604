// Package avatars stores organization avatar images in S3 compatible object
// storage. Objects live under avatars/<organization>/<uuid>.<ext> and are
// served from the configured public base URL.
package avatars
