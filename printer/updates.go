package printer

// UpdateModule is one software module's update status. It is either a
// RepositoryModule or a SystemPackageModule.
type UpdateModule interface {
	ModuleName() string
	updateModule()
}

// RepositoryModule is a module tracked through version-control metadata.
// Only the number of commits behind is kept, not the commits themselves.
type RepositoryModule struct {
	Module        string `json:"module"`
	Local         string `json:"local"`
	Remote        string `json:"remote"`
	CommitsBehind int    `json:"commits_behind"`
}

// SystemPackageModule is a module tracked through OS package metadata.
type SystemPackageModule struct {
	Module   string   `json:"module"`
	Packages []string `json:"packages"`
}

func (m RepositoryModule) ModuleName() string    { return m.Module }
func (m SystemPackageModule) ModuleName() string { return m.Module }

func (RepositoryModule) updateModule()    {}
func (SystemPackageModule) updateModule() {}

// Behind reports whether the local checkout trails the remote.
func (m RepositoryModule) Behind() bool {
	return m.CommitsBehind > 0 || (m.Remote != "" && m.Local != m.Remote)
}

// UpdateCheckResult lists recognized modules in the order the backend reported them.
type UpdateCheckResult []UpdateModule

// Pending returns the modules that have something to install.
func (r UpdateCheckResult) Pending() UpdateCheckResult {
	out := UpdateCheckResult{}
	for _, m := range r {
		switch v := m.(type) {
		case RepositoryModule:
			if v.Behind() {
				out = append(out, v)
			}
		case SystemPackageModule:
			if len(v.Packages) > 0 {
				out = append(out, v)
			}
		}
	}
	return out
}
