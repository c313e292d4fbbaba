package legacy

import (
	"github.com/meigma/dockerpull/core"
)

// LayerVersion is the content of every layer's VERSION file.
const LayerVersion = "1.0"

// emptyLayerJSON is the container-creation record written for every layer
// except the top one.
const emptyLayerJSON = `{"created":"1970-01-01T00:00:00Z","container_config":{"Hostname":"","Domainname":"","User":"",` +
	`"AttachStdin":false,"AttachStdout":false,"AttachStderr":false,"Tty":false,"OpenStdin":false,"StdinOnce":false,` +
	`"Env":null,"Cmd":null,"Image":"","Volumes":null,"WorkingDir":"","Entrypoint":null,"OnBuild":null,"Labels":null}}`

// EmptyLayer returns a fresh copy of the placeholder document.
func EmptyLayer() *Document {
	d, err := ParseDocument([]byte(emptyLayerJSON))
	if err != nil {
		panic("legacy: invalid placeholder document: " + err.Error())
	}
	return d
}

// TopLayer derives the top layer's document from the image config: the
// config without history and rootfs, which are image-wide and do not belong
// in a single layer record.
func TopLayer(config *Document) *Document {
	d := config.Clone()
	d.Delete(KeyHistory)
	d.Delete(KeyRootFS)
	return d
}

// LayerDocument builds the json file for rec. top selects the config-derived
// form; config is only read when top is set.
func LayerDocument(rec core.LayerRecord, config *Document, top bool) *Document {
	var d *Document
	if top {
		d = TopLayer(config)
	} else {
		d = EmptyLayer()
	}
	d.SetID(rec.ID)
	if rec.Parent != "" {
		d.SetParent(rec.Parent)
	}
	return d
}
