package webvm

import (
	"fmt"
	"strconv"

	"azwebvm/internal/config"
	"azwebvm/internal/resource"
)

// Stack configuration keys. They are read from the project namespace, so
// "username" resolves to "azure-test:username".
const (
	KeyUsername       = "username"
	KeyPassword       = "password"
	KeyLocation       = "location"
	KeyNamePrefix     = "namePrefix"
	KeyVMSize         = "vmSize"
	KeyImagePublisher = "imagePublisher"
	KeyImageOffer     = "imageOffer"
	KeyImageSKU       = "imageSku"
	KeyImageVersion   = "imageVersion"
	KeySSHPublicKey   = "sshPublicKey"
	KeyPageText       = "pageText"
	KeyHTTPPort       = "httpPort"
)

const (
	DefaultNamePrefix   = "aztest"
	DefaultVMSize       = "Standard_A0"
	DefaultComputerName = "hostname"
	DefaultOSDiskName   = "myosdisk1"
	DefaultIPConfigName = "webserveripcfg"
	DefaultAddressSpace = "10.0.0.0/16"
	DefaultSubnetPrefix = "10.0.2.0/24"
	DefaultPageText     = "Hello World!"
	DefaultHTTPPort     = 80

	// OutputPublicIP is the single stack output.
	OutputPublicIP = "publicIP"
)

var defaultImage = resource.ImageReference{
	Publisher: "canonical",
	Offer:     "UbuntuServer",
	SKU:       "16.04-LTS",
	Version:   "latest",
}

// Settings is the validated stack configuration of the web VM.
type Settings struct {
	Username     string
	Password     resource.Secret
	Location     string
	NamePrefix   string
	VMSize       string
	Image        resource.ImageReference
	SSHPublicKey string
	PageText     string
	HTTPPort     int
}

// LoadSettings reads the stack configuration. username, password and
// location are required.
func LoadSettings(bag *config.Bag) (Settings, error) {
	var s Settings
	var err error

	if s.Username, err = bag.Require(KeyUsername); err != nil {
		return Settings{}, err
	}
	password, err := bag.Require(KeyPassword)
	if err != nil {
		return Settings{}, err
	}
	s.Password = resource.NewSecret(password)
	if s.Location, err = bag.Require(KeyLocation); err != nil {
		return Settings{}, err
	}

	s.NamePrefix = bag.GetOr(KeyNamePrefix, DefaultNamePrefix)
	s.VMSize = bag.GetOr(KeyVMSize, DefaultVMSize)
	s.Image = resource.ImageReference{
		Publisher: bag.GetOr(KeyImagePublisher, defaultImage.Publisher),
		Offer:     bag.GetOr(KeyImageOffer, defaultImage.Offer),
		SKU:       bag.GetOr(KeyImageSKU, defaultImage.SKU),
		Version:   bag.GetOr(KeyImageVersion, defaultImage.Version),
	}
	s.SSHPublicKey = bag.GetOr(KeySSHPublicKey, "")
	s.PageText = bag.GetOr(KeyPageText, DefaultPageText)

	s.HTTPPort = DefaultHTTPPort
	if v, ok := bag.Get(KeyHTTPPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port < 1 || port > 65535 {
			return Settings{}, fmt.Errorf("invalid %s %q: must be a port number", KeyHTTPPort, v)
		}
		s.HTTPPort = port
	}
	return s, nil
}

// names are the logical and physical names derived from the prefix.
type names struct {
	prefix string
}

func (n names) group() string     { return n.prefix }
func (n names) network() string   { return n.prefix + "-network" }
func (n names) subnet() string    { return n.prefix + "-subnet" }
func (n names) publicIP() string  { return n.prefix + "-ip" }
func (n names) nic() string       { return n.prefix + "-nic" }
func (n names) vm() string        { return n.prefix + "-vm" }
func (n names) groupName() string { return n.prefix + "-rg" }
