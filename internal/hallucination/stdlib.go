package hallucination

import "strings"

// pythonStdlib holds top-level standard-library module names.
var pythonStdlib = toSet(`
__future__ abc argparse array ast asyncio atexit base64 bdb binascii bisect builtins
bz2 calendar cmath cmd code codecs collections colorsys compileall concurrent
configparser contextlib contextvars copy copyreg cProfile csv ctypes curses dataclasses
datetime dbm decimal difflib dis doctest email encodings ensurepip enum errno faulthandler
fcntl filecmp fileinput fnmatch fractions ftplib functools gc getopt getpass gettext glob
graphlib grp gzip hashlib heapq hmac html http idlelib imaplib importlib inspect io
ipaddress itertools json keyword linecache locale logging lzma mailbox marshal math
mimetypes mmap modulefinder multiprocessing netrc numbers operator optparse os pathlib
pdb pickle pickletools pkgutil platform plistlib poplib posix pprint profile pstats pty
pwd py_compile pyclbr pydoc queue quopri random re readline reprlib resource rlcompleter
runpy sched secrets select selectors shelve shlex shutil signal site smtplib socket
socketserver sqlite3 ssl stat statistics string stringprep struct subprocess symtable
sys sysconfig syslog tabnanny tarfile tempfile termios textwrap threading time timeit
tkinter token tokenize tomllib trace traceback tracemalloc tty turtle types typing
unicodedata unittest urllib uuid venv warnings wave weakref webbrowser winreg wsgiref
xml xmlrpc zipapp zipfile zipimport zlib zoneinfo _thread
`)

// pythonDistributions maps lowercased top-level import names to the PyPI
// distribution that provides them, where the two differ.
var pythonDistributions = map[string]string{
	"attr":            "attrs",
	"bs4":             "beautifulsoup4",
	"crypto":          "pycryptodome",
	"cv2":             "opencv-python",
	"dateutil":        "python-dateutil",
	"discord":         "discord-py",
	"dns":             "dnspython",
	"docx":            "python-docx",
	"dotenv":          "python-dotenv",
	"fitz":            "pymupdf",
	"gi":              "pygobject",
	"git":             "gitpython",
	"jose":            "python-jose",
	"jwt":             "pyjwt",
	"kafka":           "kafka-python",
	"ldap":            "python-ldap",
	"levenshtein":     "python-levenshtein",
	"magic":           "python-magic",
	"mpl_toolkits":    "matplotlib",
	"multipart":       "python-multipart",
	"mysqldb":         "mysqlclient",
	"nacl":            "pynacl",
	"openssl":         "pyopenssl",
	"pil":             "pillow",
	"pkg_resources":   "setuptools",
	"pptx":            "python-pptx",
	"serial":          "pyserial",
	"skimage":         "scikit-image",
	"sklearn":         "scikit-learn",
	"slugify":         "python-slugify",
	"socks":           "pysocks",
	"telegram":        "python-telegram-bot",
	"usb":             "pyusb",
	"win32api":        "pywin32",
	"yaml":            "pyyaml",
	"zmq":             "pyzmq",
	"_pytest":         "pytest",
	"google.protobuf": "protobuf",
}

// nodeBuiltins holds Node.js core module names.
var nodeBuiltins = toSet(`
assert async_hooks buffer child_process cluster console constants crypto dgram
diagnostics_channel dns domain events fs http http2 https inspector module net os path
perf_hooks process punycode querystring readline repl stream string_decoder sys timers
tls trace_events tty url util v8 vm wasi worker_threads zlib test
`)

func toSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}
