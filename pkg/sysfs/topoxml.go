package sysfs

import (
	"encoding/xml"
	"os"

	"github.com/pkg/errors"
)

// topoXML is the on-disk shape of a published topology snapshot: just
// enough of the discovered hierarchy for a client loading it to reconstruct
// package/node/CPU membership without another sysfs walk. No third-party
// library in the dependency surface does hwloc-style XML topology export;
// encoding/xml is the natural stdlib fit for this one-shot tree dump.
type topoXML struct {
	XMLName  xml.Name      `xml:"topology"`
	Packages []topoPackage `xml:"package"`
}

type topoPackage struct {
	ID    int        `xml:"id,attr"`
	Nodes []topoNode `xml:"node"`
}

type topoNode struct {
	ID   int       `xml:"id,attr"`
	CPUs []topoCPU `xml:"cpu"`
}

type topoCPU struct {
	ID int `xml:"id,attr"`
}

// ExportTopologyXML writes the topology sys discovered to path, the file a
// daemon publishes for HELLO clients to load.
func ExportTopologyXML(sys System, path string) error {
	doc := topoXML{}
	for _, pkgID := range sys.PackageIDs() {
		pkg := sys.Package(pkgID)
		tp := topoPackage{ID: int(pkgID)}
		for _, nodeID := range pkg.NodeIDs() {
			node := sys.Node(nodeID)
			tn := topoNode{ID: int(nodeID)}
			for _, cpuID := range node.CPUSet().List() {
				tn.CPUs = append(tn.CPUs, topoCPU{ID: cpuID})
			}
			tp.Nodes = append(tp.Nodes, tn)
		}
		doc.Packages = append(doc.Packages, tp)
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "sysfs: failed to marshal topology")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "sysfs: failed to write topology file %s", path)
	}
	return nil
}
