package scene

import (
	"fmt"
	"sort"
	"sync"
)

// Section is a labeled run of addresses inside a manifest. Labels surface in
// progress callbacks so the UI can show which part of the console is being
// walked.
type Section struct {
	Label     string
	Addresses []string
}

// Manifest is the ordered list of parameter addresses an export walks.
// The address set and its order are a frozen contract: the console accepts
// re-imported files in this canonical order.
type Manifest struct {
	Sections []Section

	once  sync.Once
	flat  []string
	ends  []int // cumulative end index per section, for SectionFor
}

// Addresses returns the flattened address list in canonical order.
func (m *Manifest) Addresses() []string {
	m.index()
	return m.flat
}

// Total returns the number of addresses in the manifest.
func (m *Manifest) Total() int {
	m.index()
	return len(m.flat)
}

// SectionFor returns the label of the section containing flattened index i.
func (m *Manifest) SectionFor(i int) string {
	m.index()
	n := sort.SearchInts(m.ends, i+1)
	if n >= len(m.Sections) {
		return ""
	}
	return m.Sections[n].Label
}

func (m *Manifest) index() {
	m.once.Do(func() {
		for _, s := range m.Sections {
			m.flat = append(m.flat, s.Addresses...)
			m.ends = append(m.ends, len(m.flat))
		}
	})
}

var (
	sceneManifest  *Manifest
	backupManifest *Manifest
	manifestOnce   sync.Once
)

// SceneManifest returns the scene-level manifest: the channel strips, sends,
// buses, matrices, mains, effects, outputs, and routing that make up one
// scene on the console.
func SceneManifest() *Manifest {
	manifestOnce.Do(buildManifests)
	return sceneManifest
}

// BackupManifest returns the full-console manifest: everything in the scene
// manifest plus all scene and snippet slot headers, the library preset names,
// and the current surface state.
func BackupManifest() *Manifest {
	manifestOnce.Do(buildManifests)
	return backupManifest
}

func buildManifests() {
	var scene []Section

	scene = append(scene, Section{Label: "config", Addresses: []string{
		"/config/chlink/1-2", "/config/chlink/3-4", "/config/chlink/5-6", "/config/chlink/7-8",
		"/config/buslink/1-2", "/config/buslink/3-4",
		"/config/mute/1", "/config/mute/2", "/config/mute/3",
		"/config/mute/4", "/config/mute/5", "/config/mute/6",
	}})

	for ch := 1; ch <= 32; ch++ {
		sec := Section{Label: fmt.Sprintf("channel strip %02d", ch)}
		base := fmt.Sprintf("/ch/%02d", ch)
		sec.Addresses = append(sec.Addresses,
			base+"/config/name",
			base+"/config/icon",
			base+"/config/color",
			base+"/config/source",
			base+"/preamp/trim",
			base+"/preamp/invert",
			base+"/gate/on",
			base+"/gate/thr",
			base+"/dyn/on",
			base+"/dyn/thr",
			base+"/dyn/ratio",
			base+"/eq/on",
		)
		for band := 1; band <= 4; band++ {
			sec.Addresses = append(sec.Addresses,
				fmt.Sprintf("%s/eq/%d/f", base, band),
				fmt.Sprintf("%s/eq/%d/g", base, band),
				fmt.Sprintf("%s/eq/%d/q", base, band),
			)
		}
		sec.Addresses = append(sec.Addresses,
			base+"/mix/on",
			base+"/mix/fader",
			base+"/mix/pan",
		)
		scene = append(scene, sec)
	}

	busSends := Section{Label: "bus sends"}
	for ch := 1; ch <= 32; ch++ {
		for bus := 1; bus <= 16; bus++ {
			busSends.Addresses = append(busSends.Addresses,
				fmt.Sprintf("/ch/%02d/mix/%02d/level", ch, bus))
		}
	}
	scene = append(scene, busSends)

	auxins := Section{Label: "aux inputs"}
	for a := 1; a <= 8; a++ {
		base := fmt.Sprintf("/auxin/%02d", a)
		auxins.Addresses = append(auxins.Addresses,
			base+"/config/name", base+"/mix/on", base+"/mix/fader")
	}
	scene = append(scene, auxins)

	fxrtns := Section{Label: "fx returns"}
	for f := 1; f <= 8; f++ {
		base := fmt.Sprintf("/fxrtn/%02d", f)
		fxrtns.Addresses = append(fxrtns.Addresses,
			base+"/config/name", base+"/mix/on", base+"/mix/fader")
	}
	scene = append(scene, fxrtns)

	buses := Section{Label: "mix buses"}
	for b := 1; b <= 16; b++ {
		base := fmt.Sprintf("/bus/%02d", b)
		buses.Addresses = append(buses.Addresses,
			base+"/config/name", base+"/config/color",
			base+"/mix/on", base+"/mix/fader")
	}
	scene = append(scene, buses)

	matrices := Section{Label: "matrices"}
	for x := 1; x <= 6; x++ {
		base := fmt.Sprintf("/mtx/%02d", x)
		matrices.Addresses = append(matrices.Addresses,
			base+"/config/name", base+"/mix/on", base+"/mix/fader")
	}
	scene = append(scene, matrices)

	scene = append(scene, Section{Label: "mains", Addresses: []string{
		"/main/st/mix/on", "/main/st/mix/fader", "/main/st/mix/pan",
		"/main/m/mix/on", "/main/m/mix/fader",
	}})

	dcas := Section{Label: "DCA groups"}
	for d := 1; d <= 8; d++ {
		base := fmt.Sprintf("/dca/%d", d)
		dcas.Addresses = append(dcas.Addresses,
			base+"/config/name", base+"/on", base+"/fader")
	}
	scene = append(scene, dcas)

	effects := Section{Label: "effects"}
	for f := 1; f <= 8; f++ {
		effects.Addresses = append(effects.Addresses,
			fmt.Sprintf("/fx/%d/type", f))
	}
	scene = append(scene, effects)

	outputs := Section{Label: "outputs"}
	for o := 1; o <= 16; o++ {
		outputs.Addresses = append(outputs.Addresses,
			fmt.Sprintf("/outputs/main/%02d/src", o))
	}
	scene = append(scene, outputs)

	scene = append(scene, Section{Label: "routing", Addresses: []string{
		"/config/routing/IN/1-8", "/config/routing/IN/9-16",
		"/config/routing/IN/17-24", "/config/routing/IN/25-32",
		"/config/routing/AES50A/1-8", "/config/routing/AES50B/1-8",
		"/config/routing/CARD/1-8", "/config/routing/OUT/1-4",
	}})

	sceneManifest = &Manifest{Sections: scene}

	// Full backup = scene sections + slot headers + libraries + surface.
	backup := make([]Section, len(scene))
	copy(backup, scene)

	sceneHeaders := Section{Label: "scene headers"}
	for s := 0; s < 100; s++ {
		sceneHeaders.Addresses = append(sceneHeaders.Addresses,
			fmt.Sprintf("/-show/showfile/scene/%03d/name", s),
			fmt.Sprintf("/-show/showfile/scene/%03d/notes", s),
		)
	}
	backup = append(backup, sceneHeaders)

	snippetHeaders := Section{Label: "snippet headers"}
	for s := 0; s < 100; s++ {
		snippetHeaders.Addresses = append(snippetHeaders.Addresses,
			fmt.Sprintf("/-show/showfile/snippet/%03d/name", s))
	}
	backup = append(backup, snippetHeaders)

	libraries := Section{Label: "libraries"}
	for l := 1; l <= 100; l++ {
		libraries.Addresses = append(libraries.Addresses,
			fmt.Sprintf("/-libs/ch/%03d/name", l))
	}
	backup = append(backup, libraries)

	backup = append(backup, Section{Label: "surface state", Addresses: []string{
		"/-stat/selidx", "/-stat/chfaderbank", "/-stat/grpfaderbank",
		"/-stat/sendsonfader", "/-stat/solosw/01",
		"/-prefs/style", "/-prefs/bright", "/-prefs/lamp",
		"/-show/prepos/current",
	}})

	backupManifest = &Manifest{Sections: backup}
}
