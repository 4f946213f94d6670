package preflight

// Plan selects the checks a command runs before it touches the main folder.
type Plan struct {
	MainFolderAccessible bool
	MainFolderMounted    bool
	MainFolderWritable   bool
	SourcesAccessible    bool
	HardLinks            bool

	DryRun bool
}
