// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"maps"
	"slices"
	"strings"

	"github.com/charmbracelet/glamour"
)

type (
	// Id identifies a catalog entry.
	Id int

	// MarkdownMsg is the remediation page shown to the operator.
	MarkdownMsg string

	// HttpLink is a documentation URL appended under "See also".
	HttpLink string

	// Issue is one remediation page of the catalog.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
		extLinks []HttpLink
	}
)

const (
	RegistryUnreachableId Id = iota + 1
	RateLimitedId
	ReleaseNotFoundId
	InvalidReleaseId
	ChecksumMismatchId
	BackupFailedId
	InstallFailedId
	RollbackFailedId
	UpdateBusyId
	InvalidBackupId
	HistoryUnavailableId
	ConfigLoadFailedId
)

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

// Render returns the page as styled terminal output. stylePath is a glamour
// style name ("dark", "light", "notty") or a path to a JSON style file.
func (i *Issue) Render(stylePath string) (string, error) {
	var md strings.Builder
	md.WriteString(string(i.mdMsg))
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		md.WriteString("\n\n## See also\n")
		for _, link := range slices.Concat(i.docLinks, i.extLinks) {
			md.WriteString("- <" + string(link) + ">\n")
		}
	}
	return render(md.String(), stylePath)
}

//nolint:gochecknoglobals // Catalog and render seam.
var (
	render = glamour.Render

	registryUnreachableIssue = &Issue{
		id: RegistryUnreachableId,
		mdMsg: `
# Release registry unreachable

updatectl could not talk to the release registry. Nothing was changed on disk.

## Things you can try:
- Check the registry URL in your configuration:
~~~
$ updatectl config show
~~~
- Verify network access and proxy settings (HTTPS_PROXY, NO_PROXY)
- Retry later; the periodic checker retries on its own`,
	}

	rateLimitedIssue = &Issue{
		id: RateLimitedId,
		mdMsg: `
# Registry rate limit exceeded

The registry refused the request because the client exceeded its quota.

## Things you can try:
- Wait until the reset time shown above
- Configure a registry token to raise the limit:
~~~cue
registry: token: "..."
~~~
- Or set UPDATECTL_REGISTRY_TOKEN in the environment`,
	}

	releaseNotFoundIssue = &Issue{
		id: ReleaseNotFoundId,
		mdMsg: `
# Release not found

The registry has no published release with that version.

## Things you can try:
- List what is available:
~~~
$ updatectl check
~~~
- Versions are semantic versions, with or without a leading "v"`,
	}

	invalidReleaseIssue = &Issue{
		id: InvalidReleaseId,
		mdMsg: `
# Invalid release descriptor

The release metadata is incomplete or malformed, so no download was attempted.

## Requirements:
- **version**: a semantic version such as 1.4.0
- **download_url**: an absolute http(s) URL
- **checksum**: a hex digest whose length matches the algorithm
- **checksum_algorithm**: sha256 or sha512`,
	}

	checksumMismatchIssue = &Issue{
		id: ChecksumMismatchId,
		mdMsg: `
# Checksum mismatch

The downloaded package does not match the checksum published with the release.
The package was discarded and the installation was **not** modified.

## Things you can try:
- Retry the installation; the download may have been corrupted in transit
- If it keeps failing, the published package or checksum may be wrong.
  Report it to the release maintainers`,
	}

	backupFailedIssue = &Issue{
		id: BackupFailedId,
		mdMsg: `
# Backup failed

A backup of the current installation could not be created, so the update was
abandoned before touching it.

## Things you can try:
- Check free space on the backup volume
- Check permissions on the backup directory
- Prune old backups:
~~~
$ updatectl backup prune --keep 3
~~~`,
	}

	installFailedIssue = &Issue{
		id: InstallFailedId,
		mdMsg: `
# Installation failed and was rolled back

The new version could not be installed. The previous version was restored from
its backup and is running unchanged.

## Things you can try:
- Inspect the failure in the update history:
~~~
$ updatectl history --limit 5
~~~
- Check free space and permissions on the install directory`,
	}

	rollbackFailedIssue = &Issue{
		id: RollbackFailedId,
		mdMsg: `
# Rollback failed: installation may be inconsistent

The update failed and the backup could not be restored. The install directory
may contain a partial mix of versions.

## Do this now:
- Verify the backup reported above:
~~~
$ updatectl backup verify <path>
~~~
- Restore it manually once the underlying problem is fixed:
~~~
$ updatectl backup restore <path>
~~~
- Do not start the application until the restore succeeds`,
	}

	updateBusyIssue = &Issue{
		id: UpdateBusyId,
		mdMsg: `
# Another update is in progress

Only one installation or restore can run at a time.

## Things you can try:
- Wait for the running attempt to finish
- Stop a running ` + "`updatectl serve`" + ` if it is auto-installing`,
	}

	invalidBackupIssue = &Issue{
		id: InvalidBackupId,
		mdMsg: `
# Invalid backup

The path is not a complete backup: its manifest is missing or unreadable, or
the files directory is missing.

## Things you can try:
- List the backups updatectl knows about:
~~~
$ updatectl backup list
~~~`,
	}

	historyUnavailableIssue = &Issue{
		id: HistoryUnavailableId,
		mdMsg: `
# Update history unavailable

The history database could not be opened.

## Things you can try:
- Check ` + "`paths.history_db`" + ` in your configuration
- Make sure no other process holds the database open for writing`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration

The configuration file is missing, is not valid CUE, or does not match the schema.

## Things you can try:
- Print the effective configuration:
~~~
$ updatectl config show
~~~
- Write a fresh default file:
~~~
$ updatectl config init
~~~`,
	}

	issues = map[Id]*Issue{
		registryUnreachableIssue.Id(): registryUnreachableIssue,
		rateLimitedIssue.Id():         rateLimitedIssue,
		releaseNotFoundIssue.Id():     releaseNotFoundIssue,
		invalidReleaseIssue.Id():      invalidReleaseIssue,
		checksumMismatchIssue.Id():    checksumMismatchIssue,
		backupFailedIssue.Id():        backupFailedIssue,
		installFailedIssue.Id():       installFailedIssue,
		rollbackFailedIssue.Id():      rollbackFailedIssue,
		updateBusyIssue.Id():          updateBusyIssue,
		invalidBackupIssue.Id():       invalidBackupIssue,
		historyUnavailableIssue.Id():  historyUnavailableIssue,
		configLoadFailedIssue.Id():    configLoadFailedIssue,
	}
)

// Values returns every catalog entry ordered by Id.
func Values() []*Issue {
	return slices.SortedFunc(maps.Values(issues), func(a, b *Issue) int { return int(a.id - b.id) })
}

// Get returns the entry for id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}
