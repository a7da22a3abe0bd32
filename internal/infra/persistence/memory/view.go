package memory

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func inPackage[T any](packageID string, owner func(T) string) func(T) bool {
	if packageID == "" {
		return nil
	}
	return func(v T) bool { return owner(v) == packageID }
}

func (v transactionView) ListPackages() []Package {
	return sortedValues(v.state.packages, nil, identity[Package])
}

func (v transactionView) FindPackage(id string) (Package, bool) {
	p, ok := v.state.packages[id]
	return p, ok
}

func (v transactionView) ListFolders(packageID string) []Folder {
	return sortedValues(v.state.folders, inPackage(packageID, func(f Folder) string { return f.PackageID }), cloneFolder)
}

func (v transactionView) FindFolder(id string) (Folder, bool) {
	f, ok := v.state.folders[id]
	if !ok {
		return Folder{}, false
	}
	return cloneFolder(f), true
}

func (v transactionView) ListElements(packageID string) []Element {
	return sortedValues(v.state.elements, inPackage(packageID, func(e Element) string { return e.PackageID }), cloneElement)
}

func (v transactionView) FindElement(id string) (Element, bool) {
	e, ok := v.state.elements[id]
	if !ok {
		return Element{}, false
	}
	return cloneElement(e), true
}

func (v transactionView) ListRelations(packageID string) []Relation {
	return sortedValues(v.state.relations, inPackage(packageID, func(r Relation) string { return r.PackageID }), cloneRelation)
}

func (v transactionView) FindRelation(id string) (Relation, bool) {
	r, ok := v.state.relations[id]
	if !ok {
		return Relation{}, false
	}
	return cloneRelation(r), true
}

func (v transactionView) ListViews(packageID string) []View {
	return sortedValues(v.state.views, inPackage(packageID, func(view View) string { return view.PackageID }), cloneView)
}

func (v transactionView) FindView(id string) (View, bool) {
	view, ok := v.state.views[id]
	if !ok {
		return View{}, false
	}
	return cloneView(view), true
}
