// Package registry maps service tags to provider constructors. Unknown tags
// surface as a typed error at configuration-save time.
package registry

import (
	"fmt"
	"sort"

	"github.com/doingodswork/streamfusion/pkg/provider"
	"github.com/doingodswork/streamfusion/pkg/provider/alldebrid"
	"github.com/doingodswork/streamfusion/pkg/provider/debrider"
	"github.com/doingodswork/streamfusion/pkg/provider/debridlink"
	"github.com/doingodswork/streamfusion/pkg/provider/easydebrid"
	"github.com/doingodswork/streamfusion/pkg/provider/easynews"
	"github.com/doingodswork/streamfusion/pkg/provider/nzbdav"
	"github.com/doingodswork/streamfusion/pkg/provider/nzbget"
	"github.com/doingodswork/streamfusion/pkg/provider/offcloud"
	"github.com/doingodswork/streamfusion/pkg/provider/p2p"
	"github.com/doingodswork/streamfusion/pkg/provider/pikpak"
	"github.com/doingodswork/streamfusion/pkg/provider/premiumize"
	"github.com/doingodswork/streamfusion/pkg/provider/qbittorrent"
	"github.com/doingodswork/streamfusion/pkg/provider/realdebrid"
	"github.com/doingodswork/streamfusion/pkg/provider/sabnzbd"
	"github.com/doingodswork/streamfusion/pkg/provider/stremthru"
	"github.com/doingodswork/streamfusion/pkg/provider/torbox"
)

// UnknownServiceError is returned for a service tag no adapter implements.
type UnknownServiceError struct {
	Service string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown streaming provider service %q", e.Service)
}

type factory func(provider.Options) provider.Resolver

var factories = map[string]factory{
	"realdebrid":  func(o provider.Options) provider.Resolver { return realdebrid.NewClient(o) },
	"alldebrid":   func(o provider.Options) provider.Resolver { return alldebrid.NewClient(o) },
	"premiumize":  func(o provider.Options) provider.Resolver { return premiumize.NewClient(o) },
	"debridlink":  func(o provider.Options) provider.Resolver { return debridlink.NewClient(o) },
	"offcloud":    func(o provider.Options) provider.Resolver { return offcloud.NewClient(o) },
	"easydebrid":  func(o provider.Options) provider.Resolver { return easydebrid.NewClient(o) },
	"torbox":      func(o provider.Options) provider.Resolver { return torbox.NewClient(o) },
	"stremthru":   func(o provider.Options) provider.Resolver { return stremthru.NewClient(o) },
	"debrider":    func(o provider.Options) provider.Resolver { return debrider.NewClient(o) },
	"pikpak":      func(o provider.Options) provider.Resolver { return pikpak.NewClient(o) },
	"sabnzbd":     func(o provider.Options) provider.Resolver { return sabnzbd.NewClient(o) },
	"nzbget":      func(o provider.Options) provider.Resolver { return nzbget.NewClient(o) },
	"nzbdav":      func(o provider.Options) provider.Resolver { return nzbdav.NewClient(o) },
	"easynews":    func(o provider.Options) provider.Resolver { return easynews.NewClient(o) },
	"qbittorrent": func(o provider.Options) provider.Resolver { return qbittorrent.NewClient(o) },
	"p2p":         func(o provider.Options) provider.Resolver { return p2p.NewClient(o) },
}

// New constructs the resolver for the service tag.
func New(service string, opts provider.Options) (provider.Resolver, error) {
	f, ok := factories[service]
	if !ok {
		return nil, &UnknownServiceError{Service: service}
	}
	return f(opts), nil
}

// Services returns the known service tags, sorted.
func Services() []string {
	services := make([]string, 0, len(factories))
	for service := range factories {
		services = append(services, service)
	}
	sort.Strings(services)
	return services
}
